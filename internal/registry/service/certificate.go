package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jmerrifield20/certledger/internal/contentstore"
	"github.com/jmerrifield20/certledger/internal/registry/engine"
	"github.com/jmerrifield20/certledger/internal/registry/model"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"
)

// certificateRegistry is the part of the engine CertificateService drives.
// *engine.Engine satisfies this interface.
type certificateRegistry interface {
	Register(ctx context.Context, caller string, req model.RegisterRequest) (*model.Certificate, engine.Receipt, error)
	Revoke(ctx context.Context, caller, serial string) (engine.Receipt, error)
	Get(ctx context.Context, serial string) (*model.Certificate, error)
}

// SubmitRequest is an uploaded certificate file. Domain and SerialNumber are
// optional: the domain defaults to the file's common name and the serial is
// generated from the file name.
type SubmitRequest struct {
	FileName     string
	Data         []byte
	Domain       string
	SerialNumber string
}

// Submission is the outcome of a successful Submit.
type Submission struct {
	Certificate *model.Certificate `json:"certificate"`
	Receipt     engine.Receipt     `json:"receipt"`
}

// CertificateService turns uploaded certificate files into registry records.
type CertificateService struct {
	registry certificateRegistry
	content  contentstore.Store
	now      func() time.Time
	logger   *zap.Logger
}

// NewCertificateService creates a CertificateService.
func NewCertificateService(registry certificateRegistry, content contentstore.Store, logger *zap.Logger) *CertificateService {
	return &CertificateService{
		registry: registry,
		content:  content,
		now:      time.Now,
		logger:   logger,
	}
}

// Submit stores the file, hashes it and registers it for caller.
func (s *CertificateService) Submit(ctx context.Context, caller string, req SubmitRequest) (*Submission, error) {
	if len(req.Data) == 0 {
		return nil, fmt.Errorf("%w: certificate file is empty", engine.ErrInvalidRequest)
	}

	domain := strings.TrimSpace(req.Domain)
	if domain == "" {
		cn, err := ExtractCommonName(req.Data)
		if err != nil {
			return nil, err
		}
		domain = cn
	}

	serial := strings.TrimSpace(req.SerialNumber)
	if serial == "" {
		serial = GenerateSerial(req.FileName, s.now())
	}

	contentID, err := s.content.Put(ctx, req.Data)
	if err != nil {
		return nil, fmt.Errorf("store certificate content: %w", err)
	}

	cert, receipt, err := s.registry.Register(ctx, caller, model.RegisterRequest{
		Domain:       domain,
		SerialNumber: serial,
		ContentID:    contentID,
		ContentHash:  ContentHash(req.Data),
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("certificate submitted",
		zap.String("serial", cert.SerialNumber),
		zap.String("domain", cert.Domain),
		zap.String("content_id", cert.ContentID),
		zap.Int("bytes", len(req.Data)),
	)
	return &Submission{Certificate: cert, Receipt: receipt}, nil
}

// Download returns the certificate and its stored bytes after checking them
// against the recorded content hash.
func (s *CertificateService) Download(ctx context.Context, serial string) (*model.Certificate, []byte, error) {
	cert, err := s.registry.Get(ctx, serial)
	if err != nil {
		return nil, nil, err
	}

	data, err := s.content.Get(ctx, cert.ContentID)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch content for %s: %w", serial, err)
	}
	if got := ContentHash(data); got != cert.ContentHash {
		s.logger.Warn("certificate content hash mismatch",
			zap.String("serial", serial),
			zap.String("want", cert.ContentHash),
			zap.String("got", got),
		)
		return nil, nil, fmt.Errorf("%w: %s", ErrContentHashMismatch, serial)
	}
	return cert, data, nil
}

// Revoke revokes serial on behalf of caller.
func (s *CertificateService) Revoke(ctx context.Context, caller, serial string) (engine.Receipt, error) {
	return s.registry.Revoke(ctx, caller, strings.TrimSpace(serial))
}

var commonNamePattern = regexp.MustCompile(`(?i)CN\s*=\s*([^,\n/]+)`)

// ExtractCommonName returns the first CN= value found in a textual certificate.
func ExtractCommonName(data []byte) (string, error) {
	m := commonNamePattern.FindSubmatch(data)
	if m == nil {
		return "", ErrNoCommonName
	}
	cn := strings.TrimSpace(string(m[1]))
	if cn == "" {
		return "", ErrNoCommonName
	}
	return cn, nil
}

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]`)

// GenerateSerial derives a serial number from the upload time and file name,
// e.g. "CERT-1764377247323-certcrt".
func GenerateSerial(fileName string, now time.Time) string {
	return "CERT-" + strconv.FormatInt(now.UnixMilli(), 10) + "-" + nonAlnum.ReplaceAllString(fileName, "")
}

// ContentHash returns the 0x-prefixed hex Keccak-256 of data.
func ContentHash(data []byte) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// Sentinel errors for the certificate service.
var (
	ErrNoCommonName        = errors.New("could not extract domain: certificate must contain a common name (CN)")
	ErrContentHashMismatch = errors.New("stored content does not match the recorded hash")
)
