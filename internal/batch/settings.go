package batch

import (
	"github.com/zulandar/shoprelay/internal/agent"
	"github.com/zulandar/shoprelay/internal/catalog"
	"github.com/zulandar/shoprelay/internal/models"
	"github.com/zulandar/shoprelay/internal/shop"
	"gorm.io/gorm"
)

// ToolFactory builds the agent's tools for a shop.
type ToolFactory func(s *models.Shop) []agent.Tool

// CatalogTools binds the storefront lookups to the shop's Shopify credentials.
func CatalogTools(s *models.Shop) []agent.Tool {
	return catalog.Tools(catalog.New(catalog.Opts{
		Endpoint:    s.ShopifyDomain,
		AccessToken: s.ShopifyAccessToken,
	}))
}

// ResolveSettings overlays the stored app settings on base. Missing or
// unreadable settings leave base unchanged.
func ResolveSettings(db *gorm.DB, base agent.Settings) agent.Settings {
	s, err := shop.LoadSettings(db)
	if err != nil {
		return base
	}
	out := base
	if s.AIModel != "" {
		out.Model = s.AIModel
	}
	if s.ReasoningEffort != "" {
		out.ReasoningEffort = s.ReasoningEffort
	}
	return out
}
