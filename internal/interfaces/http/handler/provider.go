package handler

import (
	"github.com/gin-gonic/gin"

	"bookviz-api/internal/infrastructure/provider"
	"bookviz-api/internal/interfaces/http/dto"
)

// ProviderLister lists the image providers with their availability.
type ProviderLister interface {
	Providers() []provider.Info
}

type ProviderHandler struct {
	providers ProviderLister
}

func NewProviderHandler(providers ProviderLister) *ProviderHandler {
	return &ProviderHandler{providers: providers}
}

// @Router /v1/providers [get]
func (h *ProviderHandler) ListProviders(c *gin.Context) {
	dto.Success(c, dto.ToProviderList(h.providers.Providers()))
}
