// Package financial turns meeting transcripts into stored financial insights
// and attests them on chain when an attester key is configured.
package financial

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/pactumai/pactum/internal/attestation"
	"github.com/pactumai/pactum/internal/eventlog"
	"github.com/pactumai/pactum/internal/insight"
	"github.com/pactumai/pactum/internal/store"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrBadRequest    = errors.New("no transcript available for this meeting")
	ErrUnprocessable = errors.New("insight confidence out of range")
)

const DefaultAttestationTimeout = 60 * time.Second

// Store is the persistence the service needs.
type Store interface {
	GetMeeting(ctx context.Context, userID, id string) (*store.Meeting, error)
	InsertInsight(ctx context.Context, fi store.FinancialInsight) (*store.FinancialInsight, error)
	SetInsightAttestation(ctx context.Context, insightID, uid string) error
	InsertAttestation(ctx context.Context, a store.Attestation) (*store.Attestation, error)
	GetLatestInsight(ctx context.Context, userID, meetingID string) (*store.FinancialInsight, error)
	ListInsights(ctx context.Context, userID, meetingID string) ([]store.FinancialInsight, error)
}

// Attester records an insight fingerprint on chain.
type Attester interface {
	Attest(ctx context.Context, p attestation.Payload) (*attestation.Result, error)
}

type EventRecorder interface {
	LogAsync(meetingID string, eventType eventlog.EventType, data map[string]any)
}

type Notifier interface {
	NotifyInsightsReady(ctx context.Context, userID, meetingID string, topics []string)
}

type Alerter interface {
	NotifyAttestationFailed(ctx context.Context, meetingID, insightID string, cause error)
}

// Options holds the optional collaborators of a Service.
type Options struct {
	AttestationTimeout time.Duration
	Recorder           EventRecorder
	Notifier           Notifier
	Alerter            Alerter
}

type Service struct {
	store    Store
	attester Attester
	logger   *log.Logger
	opts     Options
}

func NewService(st Store, attester Attester, logger *log.Logger, opts Options) *Service {
	if opts.AttestationTimeout <= 0 {
		opts.AttestationTimeout = DefaultAttestationTimeout
	}
	return &Service{store: st, attester: attester, logger: logger, opts: opts}
}

// GenerateInsight extracts financial topics from a meeting transcript and
// stores a new insight record. An explicit non-blank transcript wins over the
// stored meeting summary. Attestation is attempted afterwards and never fails
// the call.
func (s *Service) GenerateInsight(ctx context.Context, userID, meetingID string, transcript *string) (*store.FinancialInsight, error) {
	meeting, err := s.store.GetMeeting(ctx, userID, meetingID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load meeting: %w", err)
	}

	text := ""
	if transcript != nil && strings.TrimSpace(*transcript) != "" {
		text = *transcript
	} else if meeting.Summary != nil {
		text = *meeting.Summary
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrBadRequest
	}

	res := insight.Extract(text)
	record, err := store.NewInsightRecord(userID, meetingID, res, insight.Checksum(text))
	if err != nil {
		return nil, s.storeError(err)
	}
	saved, err := s.store.InsertInsight(ctx, record)
	if err != nil {
		return nil, s.storeError(err)
	}

	s.record(meetingID, eventlog.EventInsightGenerated, map[string]any{
		"insight_id": saved.ID,
		"topics":     saved.Topics,
		"confidence": saved.Confidence,
	})
	s.logger.Printf("financial: insight %s for meeting %s (topics=%v confidence=%s)",
		saved.ID, meetingID, saved.Topics, saved.Confidence)

	if uid := s.attest(saved, res.Confidence); uid != "" {
		saved.AttestationUID = &uid
	}

	if s.opts.Notifier != nil {
		go s.opts.Notifier.NotifyInsightsReady(context.WithoutCancel(ctx), userID, meetingID, saved.Topics)
	}
	return saved, nil
}

func (s *Service) storeError(err error) error {
	if errors.Is(err, store.ErrConfidenceOutOfRange) {
		return fmt.Errorf("%w: %v", ErrUnprocessable, err)
	}
	return fmt.Errorf("save insight: %w", err)
}

// attest runs one attestation attempt on its own deadline. Any failure,
// including a panic, is reported and swallowed. It returns the UID on success.
func (s *Service) attest(fi *store.FinancialInsight, confidence float64) (uid string) {
	if s.attester == nil {
		return ""
	}
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			s.attestationFailed(fi, err)
			uid = ""
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.AttestationTimeout)
	defer cancel()

	res, err := s.attester.Attest(ctx, attestation.Payload{
		MeetingID:  fi.MeetingID,
		Topics:     fi.Topics,
		Source:     fi.Source,
		Confidence: confidence,
		Checksum:   fi.Checksum,
	})
	if errors.Is(err, attestation.ErrNotConfigured) {
		s.logger.Printf("financial: attestation skipped for insight %s: attester not configured", fi.ID)
		s.record(fi.MeetingID, eventlog.EventAttestationSkipped, map[string]any{"insight_id": fi.ID})
		return ""
	}
	if err != nil {
		s.attestationFailed(fi, err)
		return ""
	}

	if err := s.store.SetInsightAttestation(ctx, fi.ID, res.UID); err != nil {
		s.attestationFailed(fi, fmt.Errorf("store uid %s: %w", res.UID, err))
		return ""
	}
	txHash := res.TxHash
	if _, err := s.store.InsertAttestation(ctx, store.Attestation{
		UID:                res.UID,
		MeetingID:          fi.MeetingID,
		FinancialInsightID: fi.ID,
		Network:            res.Network,
		Recipient:          res.Recipient,
		Revocable:          res.Revocable,
		TxHash:             &txHash,
	}); err != nil {
		// The UID is already on the insight; only the companion record is missing.
		s.attestationFailed(fi, fmt.Errorf("store attestation %s: %w", res.UID, err))
		return res.UID
	}

	s.logger.Printf("financial: insight %s attested uid=%s tx=%s", fi.ID, res.UID, res.TxHash)
	s.record(fi.MeetingID, eventlog.EventAttestationDone, map[string]any{
		"insight_id": fi.ID,
		"uid":        res.UID,
		"tx_hash":    res.TxHash,
	})
	return res.UID
}

func (s *Service) attestationFailed(fi *store.FinancialInsight, err error) {
	s.logger.Printf("financial: attestation failed for insight %s: %v", fi.ID, err)
	sentry.CaptureException(fmt.Errorf("attest insight %s: %w", fi.ID, err))
	s.record(fi.MeetingID, eventlog.EventAttestationFailed, map[string]any{
		"insight_id": fi.ID,
		"error":      err.Error(),
	})
	if s.opts.Alerter != nil {
		s.opts.Alerter.NotifyAttestationFailed(context.Background(), fi.MeetingID, fi.ID, err)
	}
}

func (s *Service) record(meetingID string, eventType eventlog.EventType, data map[string]any) {
	if s.opts.Recorder != nil {
		s.opts.Recorder.LogAsync(meetingID, eventType, data)
	}
}

// LatestInsight returns the newest insight for a meeting.
func (s *Service) LatestInsight(ctx context.Context, userID, meetingID string) (*store.FinancialInsight, error) {
	fi, err := s.store.GetLatestInsight(ctx, userID, meetingID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return fi, err
}

// ListInsights returns every insight run for a meeting, newest first.
func (s *Service) ListInsights(ctx context.Context, userID, meetingID string) ([]store.FinancialInsight, error) {
	if _, err := s.store.GetMeeting(ctx, userID, meetingID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.store.ListInsights(ctx, userID, meetingID)
}
