package classifier

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ReaganKibet/chatbot-trial/pkg/models"
)

const (
	// smoothing is the additive (Lidstone) smoothing of word likelihoods
	smoothing = 0.05

	// unscoredConfidence is reported when the model saw no known token
	unscoredConfidence = 0.5
)

var (
	priceRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:\b(under|below|less than|cheaper than|over|above|more than|around|about)\s+)?(?:\$|\bksh\.?\s*|\bkes\s*|\busd\s*)(\d+(?:\.\d{1,2})?)`),
		regexp.MustCompile(`(?i)(?:\b(under|below|less than|cheaper than|over|above|more than|around|about)\s+)?\b(\d+(?:\.\d{1,2})?)\s*(?:dollars|usd|ksh|kes|shillings|bob)\b`),
		regexp.MustCompile(`(?i)\b(under|below|less than|cheaper than|over|above|more than)\s+(\d+(?:\.\d{1,2})?)\b`),
	}
	quantityRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(\d{1,3})\s*(?:x|pcs|pieces|units|items|pairs)\b`),
		regexp.MustCompile(`(?i)\b(?:qty|quantity)\s*:?\s*(\d{1,3})\b`),
	}
	leadingNumberRe = regexp.MustCompile(`(?i)\b(\d{1,3})\s+([a-z]+)`)
)

// Offline is the deterministic local classifier: a multinomial naive Bayes
// intent model plus keyword entities and lexicon sentiment.
type Offline struct {
	intents    []string
	logPrior   map[string]float64
	logLikely  map[string]map[string]float64
	logUnseen  map[string]float64
	vocabulary map[string]struct{}

	products   map[string]string // stem -> keyword
	categories map[string]string
	lexicon    map[string]int // stem -> score
}

// NewOffline trains the offline model on the built-in corpus
func NewOffline() *Offline {
	return newOffline(trainingCorpus)
}

func newOffline(corpus []trainingDoc) *Offline {
	o := &Offline{
		logPrior:   make(map[string]float64),
		logLikely:  make(map[string]map[string]float64),
		logUnseen:  make(map[string]float64),
		vocabulary: make(map[string]struct{}),
		products:   stemIndex(productKeywords),
		categories: stemIndex(categoryKeywords),
		lexicon:    make(map[string]int, len(sentimentLexicon)),
	}

	docs := make(map[string]int)
	counts := make(map[string]map[string]int)
	totals := make(map[string]int)
	for _, doc := range corpus {
		if _, ok := counts[doc.intent]; !ok {
			counts[doc.intent] = make(map[string]int)
			o.intents = append(o.intents, doc.intent)
		}
		docs[doc.intent]++
		for _, tok := range tokenize(doc.text) {
			counts[doc.intent][tok]++
			totals[doc.intent]++
			o.vocabulary[tok] = struct{}{}
		}
	}
	sort.Strings(o.intents)

	v := float64(len(o.vocabulary))
	for _, intent := range o.intents {
		o.logPrior[intent] = math.Log(float64(docs[intent]) / float64(len(corpus)))
		denom := float64(totals[intent]) + smoothing*v
		o.logUnseen[intent] = math.Log(smoothing / denom)
		o.logLikely[intent] = make(map[string]float64, len(counts[intent]))
		for tok, n := range counts[intent] {
			o.logLikely[intent][tok] = math.Log((float64(n) + smoothing) / denom)
		}
	}

	for word, score := range sentimentLexicon {
		o.lexicon[stem(word)] = score
	}
	return o
}

func stemIndex(keywords []string) map[string]string {
	index := make(map[string]string, len(keywords))
	for _, kw := range keywords {
		index[stem(kw)] = kw
	}
	return index
}

// Classify never fails; identical text always yields an identical result
func (o *Offline) Classify(text string) models.Classification {
	intent, confidence, scored := o.predict(tokenize(text))
	if !scored {
		intent, confidence = models.IntentFallback, unscoredConfidence
	}

	score := o.sentiment(text)
	return models.Classification{
		Intent:     intent,
		Confidence: confidence,
		Scored:     scored,
		Source:     models.SourceOffline,
		Entities:   o.entities(text),
		Sentiment:  models.Sentiment{Score: score, Label: models.SentimentLabel(score)},
	}
}

// predict returns the winning intent and its posterior. Tokens outside the
// training vocabulary carry no evidence and are ignored.
func (o *Offline) predict(tokens []string) (string, float64, bool) {
	var known []string
	for _, tok := range tokens {
		if _, ok := o.vocabulary[tok]; ok {
			known = append(known, tok)
		}
	}
	if len(known) == 0 || len(o.intents) == 0 {
		return "", 0, false
	}

	scores := make([]float64, len(o.intents))
	best := 0
	for i, intent := range o.intents {
		s := o.logPrior[intent]
		for _, tok := range known {
			if l, ok := o.logLikely[intent][tok]; ok {
				s += l
			} else {
				s += o.logUnseen[intent]
			}
		}
		scores[i] = s
		if s > scores[best] {
			best = i
		}
	}

	// softmax in log space
	var sum float64
	for _, s := range scores {
		sum += math.Exp(s - scores[best])
	}
	return o.intents[best], 1 / sum, true
}

func (o *Offline) entities(text string) models.Entities {
	var e models.Entities
	raw := words(text)

	seenProducts := make(map[string]struct{})
	seenCategories := make(map[string]struct{})
	for _, w := range raw {
		s := stem(w)
		if kw, ok := o.products[s]; ok {
			if _, dup := seenProducts[kw]; !dup {
				seenProducts[kw] = struct{}{}
				e.Products = append(e.Products, kw)
			}
		}
		if kw, ok := o.categories[s]; ok {
			if _, dup := seenCategories[kw]; !dup {
				seenCategories[kw] = struct{}{}
				e.Categories = append(e.Categories, kw)
			}
		}
	}

	for _, re := range priceRes {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		price, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		e.Price = &price
		e.PriceQualifier = priceQualifier(m[1])
		break
	}

	e.Quantity = o.quantity(text)
	return e
}

func priceQualifier(word string) string {
	switch strings.ToLower(word) {
	case "under", "below", "less than", "cheaper than":
		return "under"
	case "over", "above", "more than":
		return "over"
	case "around", "about":
		return "around"
	default:
		return "exact"
	}
}

func (o *Offline) quantity(text string) int {
	for _, re := range quantityRes {
		if m := re.FindStringSubmatch(text); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				return n
			}
		}
	}
	// "2 phones"
	for _, m := range leadingNumberRe.FindAllStringSubmatch(text, -1) {
		if _, ok := o.products[stem(strings.ToLower(m[2]))]; !ok {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n
		}
	}
	return 0
}

// sentiment sums lexicon scores over the words of text, normalised to [-1, 1].
// A negator flips the next scored word within three words.
func (o *Offline) sentiment(text string) float64 {
	var (
		sum     int
		matched int
		negate  int
	)
	for _, w := range words(text) {
		if _, ok := negators[w]; ok {
			negate = 3
			continue
		}
		score, ok := o.lexicon[stem(w)]
		if ok {
			if negate > 0 {
				score = -score
				negate = 0
			}
			sum += score
			matched++
			continue
		}
		if negate > 0 {
			negate--
		}
	}
	if matched == 0 {
		return 0
	}

	score := float64(sum) / float64(5*matched)
	return math.Max(-1, math.Min(1, score))
}
