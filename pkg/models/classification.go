package models

// Intent vocabulary understood by the classifier
const (
	IntentGreeting       = "greeting"
	IntentBrowse         = "browse_catalog"
	IntentSearch         = "product_search"
	IntentProductInfo    = "product_info"
	IntentRecommendation = "recommendation"
	IntentFAQ            = "faq"
	IntentSupport        = "support"
	IntentMenuSelection  = "menu_selection"
	IntentFallback       = "fallback"
)

// Sentiment labels
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// Classification sources
const (
	SourcePrimary   = "primary"
	SourceOffline   = "offline"
	SourceSelection = "selection"
)

// Entities extracted from an inbound message
type Entities struct {
	Products       []string `json:"products,omitempty" bson:"products,omitempty"`
	Categories     []string `json:"categories,omitempty" bson:"categories,omitempty"`
	Price          *float64 `json:"price,omitempty" bson:"price,omitempty"`
	PriceQualifier string   `json:"price_qualifier,omitempty" bson:"price_qualifier,omitempty"` // under, over or exact
	Quantity       int      `json:"quantity,omitempty" bson:"quantity,omitempty"`
}

// Sentiment of an inbound message, Score in [-1, 1]
type Sentiment struct {
	Score float64 `json:"score" bson:"score"`
	Label string  `json:"label" bson:"label"`
}

// Classification is produced once per inbound message
type Classification struct {
	Intent     string    `json:"intent" bson:"intent"`
	Confidence float64   `json:"confidence" bson:"confidence"`
	Scored     bool      `json:"scored" bson:"scored"`
	Source     string    `json:"source" bson:"source"`
	Entities   Entities  `json:"entities" bson:"entities"`
	Sentiment  Sentiment `json:"sentiment" bson:"sentiment"`
}

// EffectiveConfidence is the confidence used for flow selection.
// An unscored result never counts as confident.
func (c Classification) EffectiveConfidence() float64 {
	if !c.Scored {
		return 0
	}
	return c.Confidence
}

// FirstProduct returns the first recognised product keyword, if any
func (e Entities) FirstProduct() string {
	if len(e.Products) == 0 {
		return ""
	}
	return e.Products[0]
}

// SentimentLabel thresholds a score into a label
func SentimentLabel(score float64) string {
	switch {
	case score > 0.1:
		return SentimentPositive
	case score < -0.1:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}
