package conversation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kljensen/snowball/english"

	"github.com/ReaganKibet/chatbot-trial/pkg/catalog"
	"github.com/ReaganKibet/chatbot-trial/pkg/models"
)

const welcomeBody = "Hi! 👋 Welcome to our shop. How can I help you today?"

var fallbackVariants = []string{
	"Sorry, I didn't quite get that.",
	"Hmm, I'm not sure I understood.",
	"I didn't catch that, could you rephrase?",
	"Apologies, I couldn't follow that one.",
}

func (m *Machine) welcome(in input) models.ResponseDescriptor {
	return models.ResponseDescriptor{
		Kind:    models.ResponseButtons,
		Flow:    models.FlowWelcome,
		Body:    welcomeBody,
		Buttons: mainMenu(),
		Patch: models.ContextPatch{
			SelectedCategory: models.StringPtr(""),
			SelectedProduct:  models.StringPtr(""),
			LastQuery:        models.StringPtr(""),
		},
	}
}

func (m *Machine) browseCatalog(in input) models.ResponseDescriptor {
	category := in.ctx.SelectedCategory
	confident := in.class.EffectiveConfidence() > HighConfidence

	switch {
	case strings.HasPrefix(in.selection, categoryPrefix):
		category = strings.TrimPrefix(in.selection, categoryPrefix)
	case in.selection == MenuID(models.FlowBrowseCatalog):
		category = ""
	case confident && len(in.class.Entities.Categories) > 0:
		category = in.class.Entities.Categories[0]
	case confident:
		// a fresh request to browse starts from the top
		category = ""
	}

	if category == "" {
		return m.listCategories()
	}
	return m.listProducts(category)
}

func (m *Machine) listCategories() models.ResponseDescriptor {
	categories := m.catalog.Categories()
	if len(categories) == 0 {
		return models.ResponseDescriptor{
			Kind:    models.ResponseButtons,
			Flow:    models.FlowBrowseCatalog,
			Body:    "Our catalog is being updated right now. Please check back soon.",
			Buttons: mainMenu(),
			Patch:   models.ContextPatch{SelectedCategory: models.StringPtr("")},
		}
	}

	rows := make([]models.ListRow, 0, len(categories))
	for _, c := range categories {
		rows = append(rows, models.ListRow{
			ID:          CategoryID(c.Name),
			Title:       categoryTitle(c),
			Description: c.Description,
		})
	}
	return models.ResponseDescriptor{
		Kind:      models.ResponseList,
		Flow:      models.FlowBrowseCatalog,
		Body:      "Here are our categories. Which one would you like to explore?",
		ListTitle: "Categories",
		Sections:  []models.ListSection{{Title: "Categories", Rows: capRows(rows)}},
		Patch:     models.ContextPatch{SelectedCategory: models.StringPtr("")},
	}
}

func (m *Machine) listProducts(category string) models.ResponseDescriptor {
	products := m.catalog.ProductsByCategory(category)
	if len(products) == 0 {
		return models.ResponseDescriptor{
			Kind:  models.ResponseText,
			Flow:  models.FlowBrowseCatalog,
			Body:  fmt.Sprintf("Sorry, there are no products in %s right now. Type \"catalog\" to see all categories.", category),
			Patch: models.ContextPatch{SelectedCategory: models.StringPtr("")},
		}
	}

	title := category
	for _, c := range m.catalog.Categories() {
		if strings.EqualFold(c.Name, category) {
			title = categoryTitle(c)
			break
		}
	}

	return models.ResponseDescriptor{
		Kind:      models.ResponseList,
		Flow:      models.FlowBrowseCatalog,
		Body:      fmt.Sprintf("Here's what we have in %s:", title),
		ListTitle: "Products",
		Sections:  []models.ListSection{{Title: title, Rows: productRows(products)}},
		Patch:     models.ContextPatch{SelectedCategory: models.StringPtr(category)},
	}
}

func (m *Machine) productSearch(in input) models.ResponseDescriptor {
	if in.selection == MenuID(models.FlowProductSearch) {
		return models.ResponseDescriptor{
			Kind:  models.ResponseText,
			Flow:  models.FlowProductSearch,
			Body:  "What are you looking for? Type a product name, for example \"headphones\".",
			Patch: models.ContextPatch{LastQuery: models.StringPtr("")},
		}
	}

	query := in.class.Entities.FirstProduct()
	if query == "" {
		query = in.raw
	}
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < 2 {
		return models.ResponseDescriptor{
			Kind: models.ResponseText,
			Flow: models.FlowProductSearch,
			Body: "Please type at least 2 characters so I can search for you.",
		}
	}

	results := filterByPrice(m.catalog.Search(query), in.class.Entities)
	if len(results) == 0 {
		return m.notFound(query)
	}

	return models.ResponseDescriptor{
		Kind:      models.ResponseList,
		Flow:      models.FlowProductSearch,
		Body:      fmt.Sprintf("I found %d %s matching \"%s\":", len(results), plural(len(results), "product", "products"), query),
		ListTitle: "Results",
		Sections:  []models.ListSection{{Title: "Search results", Rows: productRows(results)}},
		Patch:     models.ContextPatch{LastQuery: models.StringPtr(query)},
	}
}

// notFound never leaves the customer with an empty reply
func (m *Machine) notFound(query string) models.ResponseDescriptor {
	body := fmt.Sprintf("Sorry, I couldn't find anything matching \"%s\".", query)
	patch := models.ContextPatch{LastQuery: models.StringPtr(query)}

	recs := m.catalog.Recommendations(3)
	if len(recs) == 0 {
		return models.ResponseDescriptor{
			Kind:    models.ResponseButtons,
			Flow:    models.FlowProductSearch,
			Body:    body + " What would you like to do?",
			Buttons: mainMenu(),
			Patch:   patch,
		}
	}

	return models.ResponseDescriptor{
		Kind:      models.ResponseList,
		Flow:      models.FlowProductSearch,
		Body:      body + " Here are some popular products instead:",
		ListTitle: "Popular",
		Sections:  []models.ListSection{{Title: "Popular right now", Rows: productRows(recs)}},
		Patch:     patch,
	}
}

func filterByPrice(products []catalog.Product, e models.Entities) []catalog.Product {
	if e.Price == nil {
		return products
	}
	limit := *e.Price
	var out []catalog.Product
	for _, p := range products {
		switch e.PriceQualifier {
		case "under":
			if p.Price > limit {
				continue
			}
		case "over":
			if p.Price < limit {
				continue
			}
		}
		out = append(out, p)
	}
	return out
}

func (m *Machine) productDetails(in input) models.ResponseDescriptor {
	id := in.ctx.SelectedProduct
	if strings.HasPrefix(in.selection, productPrefix) {
		id = strings.TrimPrefix(in.selection, productPrefix)
	} else if name := in.class.Entities.FirstProduct(); name != "" {
		if hits := m.catalog.Search(name); len(hits) > 0 {
			id = hits[0].ID
		}
	}

	if id == "" {
		return m.backToBrowse(in, "Please pick a product first.")
	}
	p, ok := m.catalog.Product(id)
	if !ok {
		m.logger.WithField("product_id", id).Warn("Unknown product selected, returning to catalog")
		return m.backToBrowse(in, "Sorry, that product is no longer available.")
	}

	availability := "In stock"
	if !p.InStock {
		availability = "Currently out of stock"
	}

	resp := models.ResponseDescriptor{
		Kind: models.ResponseButtons,
		Flow: models.FlowProductDetails,
		Body: fmt.Sprintf("*%s*\n%s\nPrice: %s\n%s", p.Name, p.Description, p.PriceLabel(), availability),
		Buttons: []models.Button{
			{ID: CategoryID(p.Category), Label: "More like this"},
			{ID: MenuID(models.FlowRecommendations), Label: "Recommendations"},
			{ID: MenuID(models.FlowSupport), Label: "Talk to support"},
		},
		Patch: models.ContextPatch{
			SelectedProduct:  models.StringPtr(p.ID),
			SelectedCategory: models.StringPtr(p.Category),
		},
	}
	if p.ImageURL != "" {
		resp.Kind = models.ResponseMediaText
		resp.MediaURL = p.ImageURL
	}
	return resp
}

// backToBrowse degrades a product lookup to the catalog instead of failing
func (m *Machine) backToBrowse(in input, note string) models.ResponseDescriptor {
	in.selection = ""
	resp := m.browseCatalog(in)
	resp.Body = note + " " + resp.Body
	resp.Patch.SelectedProduct = models.StringPtr("")
	return resp
}

func (m *Machine) recommendations(in input) models.ResponseDescriptor {
	recs := m.catalog.Recommendations(5)
	if len(recs) == 0 {
		return models.ResponseDescriptor{
			Kind:    models.ResponseButtons,
			Flow:    models.FlowRecommendations,
			Body:    "I don't have any recommendations right now. What else can I do for you?",
			Buttons: mainMenu(),
		}
	}

	return models.ResponseDescriptor{
		Kind:      models.ResponseList,
		Flow:      models.FlowRecommendations,
		Body:      "Here are some of our customers' favourites:",
		ListTitle: "Recommendations",
		Sections: []models.ListSection{
			{Title: "Recommended for you", Rows: productRows(recs)},
			{Title: "More options", Rows: []models.ListRow{
				{ID: MenuID(models.FlowProductSearch), Title: "Search products"},
				{ID: MenuID(models.FlowSupport), Title: "Talk to support"},
			}},
		},
	}
}

func (m *Machine) faq(in input) models.ResponseDescriptor {
	entries := m.catalog.FAQ()
	actions := []models.Button{
		{ID: MenuID(models.FlowSupport), Label: "Talk to support"},
		{ID: MenuID(models.FlowWelcome), Label: "Main menu"},
	}

	if in.selection == "" {
		if entry, ok := matchFAQ(entries, in.raw); ok {
			return models.ResponseDescriptor{
				Kind:    models.ResponseButtons,
				Flow:    models.FlowFAQ,
				Body:    entry.Answer,
				Buttons: append([]models.Button{{ID: MenuID(models.FlowFAQ), Label: "More questions"}}, actions...),
			}
		}
	}

	if len(entries) == 0 {
		return models.ResponseDescriptor{
			Kind:    models.ResponseButtons,
			Flow:    models.FlowFAQ,
			Body:    "I don't have answers to common questions yet. Our support team can help.",
			Buttons: actions,
		}
	}

	var b strings.Builder
	b.WriteString("Here are answers to common questions:")
	for _, e := range entries {
		fmt.Fprintf(&b, "\n\n*%s*\n%s", e.Question, e.Answer)
	}
	return models.ResponseDescriptor{
		Kind:    models.ResponseButtons,
		Flow:    models.FlowFAQ,
		Body:    b.String(),
		Buttons: actions,
	}
}

func (m *Machine) support(in input) models.ResponseDescriptor {
	body := "I've let our support team know. An agent will reply in this chat as soon as possible. Meanwhile, you can:"
	if in.class.Sentiment.Label == models.SentimentNegative {
		body = "I'm sorry about the trouble. " + body
	}
	return models.ResponseDescriptor{
		Kind: models.ResponseButtons,
		Flow: models.FlowSupport,
		Body: body,
		Buttons: []models.Button{
			{ID: MenuID(models.FlowFAQ), Label: "Read FAQs"},
			{ID: MenuID(models.FlowWelcome), Label: "Main menu"},
		},
	}
}

func (m *Machine) fallback(in input) models.ResponseDescriptor {
	return models.ResponseDescriptor{
		Kind:    models.ResponseButtons,
		Flow:    models.FlowFallback,
		Body:    m.pick(fallbackVariants) + " Here's what I can help with:",
		Buttons: mainMenu(),
	}
}

func productRows(products []catalog.Product) []models.ListRow {
	rows := make([]models.ListRow, 0, len(products))
	for _, p := range products {
		desc := p.PriceLabel()
		if !p.InStock {
			desc += " (out of stock)"
		}
		rows = append(rows, models.ListRow{ID: ProductID(p.ID), Title: p.Name, Description: desc})
	}
	return capRows(rows)
}

func capRows(rows []models.ListRow) []models.ListRow {
	if len(rows) > maxListRows {
		return rows[:maxListRows]
	}
	return rows
}

func categoryTitle(c catalog.Category) string {
	if c.Title != "" {
		return c.Title
	}
	return c.Name
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

var faqStopwords = map[string]struct{}{
	"what": {}, "is": {}, "your": {}, "do": {}, "you": {}, "the": {}, "how": {}, "are": {},
	"which": {}, "a": {}, "an": {}, "of": {}, "to": {}, "for": {}, "in": {}, "i": {}, "can": {},
}

// matchFAQ returns the entry whose question shares the most content words with text
func matchFAQ(entries []catalog.FAQEntry, text string) (catalog.FAQEntry, bool) {
	query := contentStems(text)
	if len(query) == 0 {
		return catalog.FAQEntry{}, false
	}

	best, bestScore := -1, 0
	for i, e := range entries {
		score := 0
		for s := range contentStems(e.Question) {
			if _, ok := query[s]; ok {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return catalog.FAQEntry{}, false
	}
	return entries[best], true
}

func contentStems(text string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if _, skip := faqStopwords[w]; skip {
			continue
		}
		out[english.Stem(w, false)] = struct{}{}
	}
	return out
}
