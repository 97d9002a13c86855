package conversation

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ReaganKibet/chatbot-trial/pkg/catalog"
	"github.com/ReaganKibet/chatbot-trial/pkg/metrics"
	"github.com/ReaganKibet/chatbot-trial/pkg/models"
)

// Flow selection thresholds
const (
	HighConfidence         = 0.7
	ContinuationConfidence = 0.4
)

var intentFlows = map[string]models.Flow{
	models.IntentGreeting:       models.FlowWelcome,
	models.IntentBrowse:         models.FlowBrowseCatalog,
	models.IntentSearch:         models.FlowProductSearch,
	models.IntentProductInfo:    models.FlowProductDetails,
	models.IntentRecommendation: models.FlowRecommendations,
	models.IntentFAQ:            models.FlowFAQ,
	models.IntentSupport:        models.FlowSupport,
}

// SelectFlow picks the flow for a message. Above HighConfidence only the intent
// matters; in the continuation band the current flow is kept; otherwise fallback.
func SelectFlow(c models.Classification, ctx models.Context) models.Flow {
	confidence := c.EffectiveConfidence()
	switch {
	case confidence > HighConfidence:
		if flow, ok := intentFlows[c.Intent]; ok {
			return flow
		}
		return models.FlowFallback
	case confidence > ContinuationConfidence && ctx.CurrentFlow != models.FlowNone:
		return ctx.CurrentFlow
	default:
		return models.FlowFallback
	}
}

// Machine turns a classified message and the session context into a reply.
// Handlers only read the catalog; all state changes travel in the reply's patch.
type Machine struct {
	catalog catalog.Catalog
	logger  *logrus.Logger
	metrics *metrics.Metrics

	randMu sync.Mutex
	rand   *rand.Rand
}

type Option func(*Machine)

// WithRand injects the random source used to pick fallback variants
func WithRand(r *rand.Rand) Option {
	return func(m *Machine) { m.rand = r }
}

func NewMachine(cat catalog.Catalog, logger *logrus.Logger, metrics *metrics.Metrics, opts ...Option) *Machine {
	m := &Machine{
		catalog: cat,
		logger:  logger,
		metrics: metrics,
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// input is everything a flow handler may look at
type input struct {
	customerID string
	class      models.Classification
	ctx        models.Context
	raw        string
	selection  string // option id picked by the user, resolved from a number if needed
}

// Advance produces the reply to one inbound message. It never fails: handler
// defects degrade to a parent flow.
func (m *Machine) Advance(customerID string, class models.Classification, prior models.Context, raw string) models.ResponseDescriptor {
	ctx := prior.Validate()
	raw = strings.TrimSpace(raw)

	selected := SelectFlow(class, ctx)
	in := input{
		customerID: customerID,
		class:      class,
		ctx:        ctx,
		raw:        raw,
		selection:  resolveSelection(raw, ctx),
	}

	var resp models.ResponseDescriptor
	if n, outOfRange := m.invalidNumber(raw, ctx, selected); outOfRange {
		resp = m.reprompt(in, n)
	} else {
		flow := routeSelection(selected, ctx, in.selection)
		resp = m.dispatch(flow, in)
	}

	resp = finalize(resp, class)

	m.metrics.FlowTransitions.WithLabelValues(string(resp.Flow)).Inc()
	m.logger.WithFields(logrus.Fields{
		"customer_id": customerID,
		"intent":      class.Intent,
		"confidence":  class.Confidence,
		"prior_flow":  ctx.CurrentFlow,
		"flow":        resp.Flow,
		"kind":        resp.Kind,
	}).Debug("Advanced conversation")

	return resp
}

// dispatch runs the handler for flow. Every models.Flow has a case.
func (m *Machine) dispatch(flow models.Flow, in input) models.ResponseDescriptor {
	switch flow {
	case models.FlowWelcome:
		return m.welcome(in)
	case models.FlowBrowseCatalog:
		return m.browseCatalog(in)
	case models.FlowProductSearch:
		return m.productSearch(in)
	case models.FlowProductDetails:
		return m.productDetails(in)
	case models.FlowRecommendations:
		return m.recommendations(in)
	case models.FlowFAQ:
		return m.faq(in)
	case models.FlowSupport:
		return m.support(in)
	case models.FlowFallback, models.FlowNone:
		return m.fallback(in)
	default:
		m.logger.WithField("flow", flow).Warn("Unknown flow, using fallback")
		return m.fallback(in)
	}
}

// finalize stamps the bookkeeping every reply carries: the flow, the last
// intent and the numbered options the next message may refer to.
func finalize(resp models.ResponseDescriptor, class models.Classification) models.ResponseDescriptor {
	if resp.Patch.CurrentFlow == nil {
		resp.Patch.CurrentFlow = models.FlowPtr(resp.Flow)
	}
	resp.Patch.LastIntent = models.StringPtr(class.Intent)

	if len(resp.Patch.MenuOptions) == 0 {
		if ids := resp.OptionIDs(); len(ids) > 0 {
			resp.Patch.MenuOptions = ids
		} else {
			resp.Patch.ResetMenu = true
		}
	}
	return resp
}

// resolveSelection maps a typed number onto the menu shown last, or accepts
// an option id sent by a native button or list
func resolveSelection(raw string, ctx models.Context) string {
	if n, err := strconv.Atoi(raw); err == nil {
		if n >= 1 && n <= len(ctx.MenuOptions) {
			return ctx.MenuOptions[n-1]
		}
		return ""
	}
	if isOptionID(raw) {
		return raw
	}
	return ""
}

// routeSelection follows a picked option to the flow it belongs to. It only
// applies to continuations, so a confident intent is never overridden.
func routeSelection(selected models.Flow, ctx models.Context, selection string) models.Flow {
	if selection == "" || ctx.CurrentFlow == models.FlowNone || selected != ctx.CurrentFlow {
		return selected
	}
	switch {
	case strings.HasPrefix(selection, menuPrefix):
		if target := models.Flow(strings.TrimPrefix(selection, menuPrefix)); target.Valid() {
			return target
		}
	case strings.HasPrefix(selection, categoryPrefix):
		return models.FlowBrowseCatalog
	case strings.HasPrefix(selection, productPrefix):
		return models.FlowProductDetails
	}
	return selected
}

// invalidNumber reports a numbered reply that matches no option of the current menu
func (m *Machine) invalidNumber(raw string, ctx models.Context, selected models.Flow) (int, bool) {
	if len(ctx.MenuOptions) == 0 || selected != ctx.CurrentFlow {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, n < 1 || n > len(ctx.MenuOptions)
}

// reprompt keeps the current menu alive after an out-of-range number
func (m *Machine) reprompt(in input, n int) models.ResponseDescriptor {
	return models.ResponseDescriptor{
		Kind: models.ResponseText,
		Flow: in.ctx.CurrentFlow,
		Body: fmt.Sprintf("%d is not one of the options. Please reply with a number between 1 and %d.", n, len(in.ctx.MenuOptions)),
		Patch: models.ContextPatch{
			MenuOptions: in.ctx.MenuOptions,
		},
	}
}

func (m *Machine) pick(variants []string) string {
	m.randMu.Lock()
	defer m.randMu.Unlock()
	return variants[m.rand.Intn(len(variants))]
}
