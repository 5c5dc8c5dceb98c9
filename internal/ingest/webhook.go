// Package ingest turns Jenkins activity into normalized build events,
// either pushed over a webhook or pulled by polling.
package ingest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"buildwatch/internal/domain"
)

// Sink is where both ingestion modes hand events off; it reports false
// once the pipeline stops accepting new work.
type Sink interface {
	Enqueue(ev domain.BuildEvent) bool
}

// signatureHeader carries the hex HMAC-SHA256 of the raw request body,
// keyed with the shared webhook secret.
const signatureHeader = "X-Build-Signature"

// ErrBuildInProgress marks a well-formed notification for a build that has
// not completed yet. Those are acknowledged and skipped, not errors.
var ErrBuildInProgress = errors.New("build not completed yet")

type WebhookServer struct {
	secret string
	sink   Sink
	srv    *http.Server
}

func NewWebhookServer(addr, secret string, sink Sink) *WebhookServer {
	s := &WebhookServer{secret: secret, sink: sink}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.POST("/webhook/jenkins", s.handleBuildNotification)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start blocks serving requests until Shutdown.
func (s *WebhookServer) Start() error {
	log.Printf("Webhook listener on %s", s.srv.Addr)
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *WebhookServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *WebhookServer) handleBuildNotification(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	if !s.verifySignature(payload, c.GetHeader(signatureHeader)) {
		log.Printf("webhook rejected: bad signature from %s", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	ev, err := ParseNotification(payload)
	if err != nil {
		if errors.Is(err, ErrBuildInProgress) {
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		// Malformed payloads are dropped and logged, never fatal.
		log.Printf("webhook dropped event: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !s.sink.Enqueue(ev) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
		return
	}
	log.Printf("webhook accepted job=%s build=%d result=%s", ev.Job, ev.Number, ev.Result)
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

func (s *WebhookServer) verifySignature(payload []byte, header string) bool {
	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write(payload)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(strings.TrimPrefix(header, "sha256=")))
}

// notificationPayload is the Jenkins Notification-plugin JSON shape.
type notificationPayload struct {
	Name  string `json:"name"`
	Build *struct {
		Number  *int64 `json:"number"`
		Phase   string `json:"phase"`
		Status  string `json:"status"`
		FullURL string `json:"full_url"`
		SCM     struct {
			Branch string `json:"branch"`
		} `json:"scm"`
	} `json:"build"`
}

// ParseNotification validates a webhook body and produces exactly one
// BuildEvent, or fails with MalformedEventError when the job name, build
// number or result status is absent or of the wrong type.
func ParseNotification(payload []byte) (domain.BuildEvent, error) {
	var p notificationPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return domain.BuildEvent{}, &domain.MalformedEventError{Reason: "invalid JSON: " + err.Error()}
	}
	if strings.TrimSpace(p.Name) == "" {
		return domain.BuildEvent{}, &domain.MalformedEventError{Reason: "missing job name"}
	}
	if p.Build == nil || p.Build.Number == nil {
		return domain.BuildEvent{}, &domain.MalformedEventError{Reason: "missing build number"}
	}
	if *p.Build.Number <= 0 {
		return domain.BuildEvent{}, &domain.MalformedEventError{Reason: "build number must be positive"}
	}

	switch p.Build.Phase {
	case "", "COMPLETED", "FINALIZED":
	default:
		return domain.BuildEvent{}, ErrBuildInProgress
	}

	if strings.TrimSpace(p.Build.Status) == "" {
		return domain.BuildEvent{}, &domain.MalformedEventError{Reason: "missing result status"}
	}

	// Jenkins reports SCM branches as "origin/main"; filters configure
	// the bare branch name.
	branch := strings.TrimPrefix(p.Build.SCM.Branch, "origin/")

	return domain.BuildEvent{
		Job:       p.Name,
		Number:    *p.Build.Number,
		Result:    domain.NormalizeResult(p.Build.Status),
		Branch:    branch,
		Timestamp: time.Now(),
		URL:       p.Build.FullURL,
	}, nil
}
