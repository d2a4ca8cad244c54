package whatsapp

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/bus"
)

const defaultWhatsAppWebhookPath = "/whatsapp/webhook"

// metaWebhookPayload is the WhatsApp Business Cloud API's webhook
// envelope (spec §6: "Meta webhook payload with
// entry[].changes[].value.messages[]").
type metaWebhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []struct {
					From      string `json:"from"`
					ID        string `json:"id"`
					Timestamp string `json:"timestamp"`
					Type      string `json:"type"`
					Text      struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// startMeta starts the HTTP server receiving Meta's webhook callbacks.
func (c *Channel) startMeta() error {
	path := c.config.WebhookPath
	if path == "" {
		path = defaultWhatsAppWebhookPath
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, c.handleMetaWebhook)
	c.httpServer = &http.Server{Addr: ":3000", Handler: mux}

	go func() {
		if err := c.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("whatsapp meta webhook server error", "error", err)
		}
	}()

	c.SetRunning(true)
	slog.Info("whatsapp channel started (meta webhook mode)", "path", path)
	return nil
}

// handleMetaWebhook answers Meta's subscription verification GET
// request and processes POST event deliveries, rejecting payloads whose
// X-Hub-Signature-256 doesn't match when MetaAppSecret is configured.
func (c *Channel) handleMetaWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		c.handleMetaVerification(w, r)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if c.config.MetaAppSecret != "" {
		if !verifyMetaSignature(body, r.Header.Get("X-Hub-Signature-256"), c.config.MetaAppSecret) {
			http.Error(w, "invalid signature", http.StatusForbidden)
			return
		}
	}

	var payload metaWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	c.dispatchMetaPayload(&payload)
	w.WriteHeader(http.StatusOK)
}

func (c *Channel) handleMetaVerification(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if c.config.VerifyToken != "" && q.Get("hub.verify_token") != c.config.VerifyToken {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	w.Write([]byte(q.Get("hub.challenge")))
}

func verifyMetaSignature(body []byte, header, secret string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	expected, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}

func (c *Channel) dispatchMetaPayload(payload *metaWebhookPayload) {
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			senderNames := make(map[string]string)
			for _, contact := range change.Value.Contacts {
				senderNames[contact.WaID] = contact.Profile.Name
			}
			for _, msg := range change.Value.Messages {
				if msg.ID != "" {
					if _, loaded := c.dedup.LoadOrStore(msg.ID, struct{}{}); loaded {
						continue
					}
					go func(id string) {
						time.Sleep(5 * time.Minute)
						c.dedup.Delete(id)
					}(msg.ID)
				}
				if msg.Type != "text" || strings.TrimSpace(msg.Text.Body) == "" {
					continue
				}

				senderDisplay := senderNames[msg.From]
				if senderDisplay == "" {
					senderDisplay = msg.From
				}

				c.Publish(bus.InboundMessage{
					ExternalChatID:     msg.From,
					SenderDisplay:      senderDisplay,
					BodyText:           msg.Text.Body,
					TransportMessageID: msg.ID,
					IsDirectMessage:    true,
					IsBotMentioned:     true,
					ChatType:           "whatsapp:private",
					Metadata:           map[string]string{"sender_id": msg.From},
				})
			}
		}
	}
}

// sendMeta posts one already-split chunk through the Graph API.
func (c *Channel) sendMeta(ctx context.Context, externalChatID, text string) error {
	endpoint := fmt.Sprintf("%s/%s/messages", strings.TrimRight(c.config.MetaAPIBase, "/"), c.config.MetaPhoneNumberID)

	body, err := json.Marshal(map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                externalChatID,
		"type":              "text",
		"text":              map[string]string{"body": text},
	})
	if err != nil {
		return fmt.Errorf("marshal whatsapp meta message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.config.MetaAccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp meta send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("whatsapp meta send failed: HTTP %d %s", resp.StatusCode, string(respBody))
	}
	return nil
}
