package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/metrics"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/session"
)

// EventBus is the messaging surface the gate needs: consuming verification
// submissions and broadcasting session events.
type EventBus interface {
	SubscribeVerifyCheck(handler func(data []byte)) error
	PublishSessionEvent(sessionID string, data []byte) error
}

// DefaultMaxWarnings is how many consecutive failed checks a participant may
// accumulate before the session is torn down.
const DefaultMaxWarnings = 3

// Check is the payload published to the verify.check subject by gateways
// when a client submits an image sample.
type Check struct {
	SessionID   string `json:"session_id"`
	AnonID      string `json:"anon_id"`
	ImageSample string `json:"image_sample"`
}

// EventRecorder persists verification outcomes for audit. Implementations
// must tolerate being called concurrently.
type EventRecorder interface {
	RecordVerification(ctx context.Context, sessionID, anonID string, verified bool, confidence float64) error
}

// Config holds the gate's tunable policy knobs.
type Config struct {
	ConfidenceThreshold float64
	MaxWarnings         int
}

// DefaultConfig returns the standard gate policy.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: DefaultConfidenceThreshold,
		MaxWarnings:         DefaultMaxWarnings,
	}
}

// Gate consumes verification submissions, classifies them, applies the
// warning policy and broadcasts the signed outcome to the session.
type Gate struct {
	config     Config
	classifier FaceClassifier
	signer     *AttestationSigner
	status     *StatusStore
	sessions   *session.Store
	bus        EventBus
	recorder   EventRecorder // optional
}

// NewGate wires up a verification gate. recorder may be nil, in which case
// outcomes are not persisted.
func NewGate(config Config, classifier FaceClassifier, signer *AttestationSigner,
	status *StatusStore, sessions *session.Store, bus EventBus,
	recorder EventRecorder) *Gate {
	if config.ConfidenceThreshold <= 0 {
		config.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if config.MaxWarnings <= 0 {
		config.MaxWarnings = DefaultMaxWarnings
	}
	return &Gate{
		config:     config,
		classifier: classifier,
		signer:     signer,
		status:     status,
		sessions:   sessions,
		bus:        bus,
		recorder:   recorder,
	}
}

// Start subscribes the gate to verification submissions.
func (g *Gate) Start() error {
	return g.bus.SubscribeVerifyCheck(func(data []byte) {
		var check Check
		if err := json.Unmarshal(data, &check); err != nil {
			log.Printf("[verify] invalid check payload: %v", err)
			return
		}
		if err := g.HandleCheck(context.Background(), &check); err != nil {
			log.Printf("[verify] check %s/%s: %v", check.SessionID, check.AnonID, err)
		}
	})
}

// HandleCheck runs one verification round for a participant: classify the
// sample, update warning state, broadcast the signed outcome, and tear down
// the session once the warning budget is exhausted. A classifier failure
// degrades to not-verified rather than blocking the round.
func (g *Gate) HandleCheck(ctx context.Context, check *Check) error {
	sess, err := g.sessions.Get(ctx, check.SessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if sess == nil || sess.Status != session.StatusActive {
		return nil // session gone, stale submission
	}
	if !sess.IsParticipant(check.AnonID) {
		return fmt.Errorf("%s is not a participant", check.AnonID)
	}

	judgment, err := g.classifier.Detect(ctx, check.ImageSample)
	if err != nil {
		log.Printf("[verify] classifier error for %s/%s, treating as not verified: %v",
			check.SessionID, check.AnonID, err)
		judgment = Judgment{}
	}

	verified := Verdict(judgment, g.config.ConfidenceThreshold)
	confidence := 0.0
	if judgment.Confidence != nil {
		confidence = *judgment.Confidence
	}

	warnings := 0
	if verified {
		metrics.VerificationsTotal.WithLabelValues("verified").Inc()
		if err := g.status.RecordSuccess(ctx, check.SessionID, check.AnonID); err != nil {
			log.Printf("[verify] record success: %v", err)
		}
	} else {
		metrics.VerificationsTotal.WithLabelValues("failed").Inc()
		warnings, err = g.status.RecordFailure(ctx, check.SessionID, check.AnonID)
		if err != nil {
			log.Printf("[verify] record failure: %v", err)
			warnings = 0
		}
	}

	// Every round produces a signed, recorded, broadcast outcome; the final
	// failing round is no exception, so the partner sees it before teardown.
	attestation, err := g.signer.Sign(check.SessionID, check.AnonID, verified, confidence)
	if err != nil {
		return err
	}

	if g.recorder != nil {
		if err := g.recorder.RecordVerification(ctx, check.SessionID, check.AnonID, verified, confidence); err != nil {
			log.Printf("[verify] persist outcome: %v", err)
		}
	}

	event := session.Event{
		Type:        session.EventVerified,
		From:        check.AnonID,
		Verified:    verified,
		Confidence:  confidence,
		Attestation: attestation,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal verified event: %w", err)
	}
	if err := g.bus.PublishSessionEvent(check.SessionID, data); err != nil {
		log.Printf("[verify] publish verified event on %s: %v", check.SessionID, err)
	}

	if !verified && warnings >= g.config.MaxWarnings {
		return g.failSession(ctx, sess, check.AnonID, warnings)
	}
	return nil
}

// failSession tears down a session whose participant ran out of verification
// warnings. Only the caller that performs the transition broadcasts the
// ended event.
func (g *Gate) failSession(ctx context.Context, sess *session.Session, anonID string, warnings int) error {
	log.Printf("[verify] %s failed %d checks in session %s, ending session",
		anonID, warnings, sess.ID)

	performed, err := g.sessions.End(ctx, sess.ID, session.ReasonVerificationFailed)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if !performed {
		return nil
	}

	event := session.Event{
		Type:   session.EventEnded,
		Reason: session.ReasonVerificationFailed,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal ended event: %w", err)
	}
	return g.bus.PublishSessionEvent(sess.ID, data)
}
