package models

// Flow names a state of the conversation state machine
type Flow string

const (
	FlowNone            Flow = ""
	FlowWelcome         Flow = "welcome"
	FlowBrowseCatalog   Flow = "browse_catalog"
	FlowProductSearch   Flow = "product_search"
	FlowProductDetails  Flow = "product_details"
	FlowRecommendations Flow = "recommendations"
	FlowFAQ             Flow = "faq"
	FlowSupport         Flow = "support"
	FlowFallback        Flow = "fallback"
)

// Flows lists every flow of the state machine
var Flows = []Flow{
	FlowWelcome,
	FlowBrowseCatalog,
	FlowProductSearch,
	FlowProductDetails,
	FlowRecommendations,
	FlowFAQ,
	FlowSupport,
	FlowFallback,
}

// Valid reports whether f is one of the known flows
func (f Flow) Valid() bool {
	for _, known := range Flows {
		if f == known {
			return true
		}
	}
	return false
}

// ContextVersion is bumped whenever the Context layout changes
const ContextVersion = 2

// Context is the only mutable cross-message state of a session.
// Every field is optional; handlers read what they need and write through a ContextPatch.
type Context struct {
	Version          int      `json:"version" bson:"version"`
	CurrentFlow      Flow     `json:"current_flow,omitempty" bson:"current_flow,omitempty"`
	SelectedCategory string   `json:"selected_category,omitempty" bson:"selected_category,omitempty"`
	SelectedProduct  string   `json:"selected_product,omitempty" bson:"selected_product,omitempty"`
	LastQuery        string   `json:"last_query,omitempty" bson:"last_query,omitempty"`
	LastIntent       string   `json:"last_intent,omitempty" bson:"last_intent,omitempty"`
	MenuOptions      []string `json:"menu_options,omitempty" bson:"menu_options,omitempty"`
}

// Validate repairs a context read from storage. Unknown flows are dropped
// and contexts written by older versions are upgraded in place.
func (c Context) Validate() Context {
	if c.CurrentFlow != FlowNone && !c.CurrentFlow.Valid() {
		c.CurrentFlow = FlowNone
		c.MenuOptions = nil
	}
	if c.Version < ContextVersion {
		// v1 contexts had no numbered menu; stale options would misroute replies.
		c.MenuOptions = nil
		c.Version = ContextVersion
	}
	return c
}

// ContextPatch describes changes to merge into a session context.
// A nil field leaves the value untouched, a pointer to "" clears it.
type ContextPatch struct {
	CurrentFlow      *Flow    `json:"current_flow,omitempty" bson:"current_flow,omitempty"`
	SelectedCategory *string  `json:"selected_category,omitempty" bson:"selected_category,omitempty"`
	SelectedProduct  *string  `json:"selected_product,omitempty" bson:"selected_product,omitempty"`
	LastQuery        *string  `json:"last_query,omitempty" bson:"last_query,omitempty"`
	LastIntent       *string  `json:"last_intent,omitempty" bson:"last_intent,omitempty"`
	MenuOptions      []string `json:"menu_options,omitempty" bson:"menu_options,omitempty"`
	ResetMenu        bool     `json:"reset_menu,omitempty" bson:"reset_menu,omitempty"`
}

// Apply returns c with the patch merged in
func (p ContextPatch) Apply(c Context) Context {
	out := c
	out.Version = ContextVersion
	if p.CurrentFlow != nil {
		out.CurrentFlow = *p.CurrentFlow
	}
	if p.SelectedCategory != nil {
		out.SelectedCategory = *p.SelectedCategory
	}
	if p.SelectedProduct != nil {
		out.SelectedProduct = *p.SelectedProduct
	}
	if p.LastQuery != nil {
		out.LastQuery = *p.LastQuery
	}
	if p.LastIntent != nil {
		out.LastIntent = *p.LastIntent
	}
	if p.ResetMenu {
		out.MenuOptions = nil
	}
	if len(p.MenuOptions) > 0 {
		out.MenuOptions = append([]string(nil), p.MenuOptions...)
	}
	return out
}

// StringPtr is a helper for building patches
func StringPtr(s string) *string {
	return &s
}

// FlowPtr is a helper for building patches
func FlowPtr(f Flow) *Flow {
	return &f
}
