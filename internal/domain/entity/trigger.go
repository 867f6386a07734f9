package entity

import (
	"fmt"
	"strings"
)

// Trigger records why a job was created.
type Trigger string

const (
	TriggerButton        Trigger = "Button"
	TriggerTextSelection Trigger = "TextSelection"
	TriggerAutoNovel     Trigger = "AutoNovel"
	TriggerAuthorDefined Trigger = "AuthorDefined"
	TriggerPerChapter    Trigger = "PerChapter"
	TriggerPerPage       Trigger = "PerPage"
	TriggerRegeneration  Trigger = "Regeneration"
)

const (
	MinPriority = 0
	MaxPriority = 100
)

// triggerPriority is the default queue priority per trigger. Interactive
// requests outrank automatic ones.
var triggerPriority = map[Trigger]int{
	TriggerButton:        10,
	TriggerTextSelection: 10,
	TriggerRegeneration:  8,
	TriggerAuthorDefined: 5,
	TriggerPerPage:       3,
	TriggerPerChapter:    3,
	TriggerAutoNovel:     1,
}

// ParseTrigger resolves a trigger name case-insensitively.
func ParseTrigger(s string) (Trigger, error) {
	for t := range triggerPriority {
		if strings.EqualFold(string(t), strings.TrimSpace(s)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown trigger %q", s)
}

func (t Trigger) IsValid() bool {
	_, ok := triggerPriority[t]
	return ok
}

// DefaultPriority is the queue priority used when the caller gives none.
func (t Trigger) DefaultPriority() int {
	return triggerPriority[t]
}

func (t Trigger) String() string {
	return string(t)
}
