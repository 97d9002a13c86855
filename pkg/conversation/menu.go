package conversation

import (
	"strings"

	"github.com/ReaganKibet/chatbot-trial/pkg/models"
)

// Option id prefixes. Ids travel back as button payloads or through numbered replies.
const (
	menuPrefix     = "menu_"
	categoryPrefix = "category_"
	productPrefix  = "product_"
)

// maxListRows is the most rows one list reply carries
const maxListRows = 10

func isOptionID(s string) bool {
	for _, prefix := range []string{menuPrefix, categoryPrefix, productPrefix} {
		if strings.HasPrefix(s, prefix) && len(s) > len(prefix) {
			return true
		}
	}
	return false
}

func MenuID(flow models.Flow) string {
	return menuPrefix + string(flow)
}

func CategoryID(name string) string {
	return categoryPrefix + name
}

func ProductID(id string) string {
	return productPrefix + id
}

// mainMenu is the 4-option menu offered by welcome and fallback
func mainMenu() []models.Button {
	return []models.Button{
		{ID: MenuID(models.FlowBrowseCatalog), Label: "Browse catalog"},
		{ID: MenuID(models.FlowProductSearch), Label: "Search products"},
		{ID: MenuID(models.FlowRecommendations), Label: "Recommendations"},
		{ID: MenuID(models.FlowSupport), Label: "Talk to support"},
	}
}

func selectedMenu(selection string) (models.Flow, bool) {
	if !strings.HasPrefix(selection, menuPrefix) {
		return models.FlowNone, false
	}
	flow := models.Flow(strings.TrimPrefix(selection, menuPrefix))
	return flow, flow.Valid()
}
