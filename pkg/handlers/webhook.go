package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ReaganKibet/chatbot-trial/pkg/models"
	"github.com/ReaganKibet/chatbot-trial/pkg/queue"
)

const (
	maxWebhookBody = 1 << 20
	emptyTwiML     = `<?xml version="1.0" encoding="UTF-8"?><Response/>`
)

// Webhook outcomes, also used as metric labels
const (
	outcomeAccepted    = "accepted"
	outcomeDuplicate   = "duplicate"
	outcomeIgnored     = "ignored"
	outcomeInvalid     = "invalid"
	outcomeRejected    = "rejected"
	outcomeUnavailable = "unavailable"
)

var addressPrefixes = []string{"whatsapp:", "tel:", "sms:"}

// Webhook receives provider callbacks. It only validates, normalises and
// enqueues; processing happens in the queue workers.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.reply(w, outcomeInvalid, http.StatusBadRequest, "Invalid request body")
		return
	}

	params, isJSON, err := parseParams(r.Header.Get("Content-Type"), body)
	if err != nil {
		h.logger.WithError(err).Debug("Unparseable webhook payload")
		h.reply(w, outcomeInvalid, http.StatusBadRequest, "Invalid request body")
		return
	}

	if h.validator != nil {
		signedURL := h.validator.URL(requestURL(r), r.URL.RawQuery)
		signature := r.Header.Get(SignatureHeader)
		if isJSON {
			err = h.validator.ValidateBody(signedURL, body, signature)
		} else {
			err = h.validator.ValidateForm(signedURL, params, signature)
		}
		if err != nil {
			h.logger.WithFields(logrus.Fields{
				"remote": r.RemoteAddr,
				"url":    signedURL,
			}).Warn("Rejected webhook with invalid signature")
			h.reply(w, outcomeRejected, http.StatusForbidden, "Forbidden")
			return
		}
	}

	msg, err := Normalize(params)
	if err != nil {
		h.logger.WithError(err).Debug("Webhook without sender")
		h.reply(w, outcomeInvalid, http.StatusBadRequest, "Missing sender")
		return
	}
	msg.ReceivedAt = h.now()

	if msg.Body == "" && msg.MediaURL == "" && msg.SelectionID == "" {
		h.logger.WithField("customer_id", msg.CustomerID).Debug("Ignoring empty message")
		h.ack(w, outcomeIgnored)
		return
	}

	var opts []queue.EnqueueOption
	if msg.ProviderMessageID != "" {
		// provider redeliveries map onto the same job
		opts = append(opts, queue.WithJobID("msg:"+msg.ProviderMessageID))
	}

	job, err := h.queue.Enqueue(r.Context(), models.JobProcessMessage, msg, opts...)
	if errors.Is(err, queue.ErrDuplicateJob) {
		h.logger.WithField("provider_message_id", msg.ProviderMessageID).Debug("Duplicate webhook delivery")
		h.ack(w, outcomeDuplicate)
		return
	}
	if err != nil {
		h.logger.WithError(err).WithField("customer_id", msg.CustomerID).Error("Failed to enqueue inbound message")
		h.reply(w, outcomeUnavailable, http.StatusServiceUnavailable, "Service unavailable")
		return
	}

	h.logger.WithFields(logrus.Fields{
		"customer_id": msg.CustomerID,
		"job_id":      job.ID,
		"type":        msg.Type,
	}).Debug("Enqueued inbound message")
	h.ack(w, outcomeAccepted)
}

func (h *Handler) ack(w http.ResponseWriter, outcome string) {
	h.metrics.WebhookRequests.WithLabelValues(outcome).Inc()
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, emptyTwiML)
}

func (h *Handler) reply(w http.ResponseWriter, outcome string, code int, text string) {
	h.metrics.WebhookRequests.WithLabelValues(outcome).Inc()
	http.Error(w, text, code)
}

// Normalize turns provider parameters into the queue payload
func Normalize(params url.Values) (models.InboundMessage, error) {
	from := StripAddress(params.Get("From"))
	if from == "" {
		return models.InboundMessage{}, errors.New("missing From")
	}

	msg := models.InboundMessage{
		CustomerID:        from,
		To:                StripAddress(params.Get("To")),
		Body:              strings.TrimSpace(params.Get("Body")),
		Type:              models.MessageTypeText,
		ProviderMessageID: firstNonEmpty(params.Get("MessageSid"), params.Get("SmsMessageSid")),
		SelectionID:       firstNonEmpty(params.Get("ButtonPayload"), params.Get("ListId")),
	}

	if n, _ := strconv.Atoi(params.Get("NumMedia")); n > 0 {
		for i := 0; i < n; i++ {
			contentType := params.Get(fmt.Sprintf("MediaContentType%d", i))
			mediaURL := params.Get(fmt.Sprintf("MediaUrl%d", i))
			if mediaURL != "" && supportedMedia(contentType) {
				msg.Type = models.MessageTypeMedia
				msg.MediaURL = mediaURL
				msg.MediaType = contentType
				break
			}
		}
	}
	return msg, nil
}

// StripAddress removes the channel prefix from a provider address
func StripAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	for _, prefix := range addressPrefixes {
		if strings.HasPrefix(strings.ToLower(addr), prefix) {
			return addr[len(prefix):]
		}
	}
	return addr
}

func supportedMedia(contentType string) bool {
	contentType = strings.ToLower(contentType)
	return strings.HasPrefix(contentType, "image/") ||
		strings.HasPrefix(contentType, "application/") ||
		strings.HasPrefix(contentType, "text/")
}

func parseParams(contentType string, body []byte) (url.Values, bool, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType != "application/json" {
		params, err := url.ParseQuery(string(body))
		return params, false, err
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, true, err
	}
	params := url.Values{}
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
		case string:
			params.Set(k, val)
		case float64:
			params.Set(k, strconv.FormatFloat(val, 'f', -1, 64))
		default:
			params.Set(k, fmt.Sprint(val))
		}
	}
	return params, true, nil
}

func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
