package canhoto

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vhfmag/canhotos-keeper/internal/recognition"
)

// IDGenerator generates unique IDs for records
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates random UUIDs
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

var (
	// ErrEmptyQuery is returned by Search when neither a number nor a
	// date was supplied.
	ErrEmptyQuery = errors.New("search requires a receipt number or a date")

	// ErrDateRequired is returned by Browse when no date was supplied.
	ErrDateRequired = errors.New("browse requires a date")

	// ErrBadBackup is returned by Import for documents that do not have
	// the expected top-level shape.
	ErrBadBackup = errors.New("malformed backup document")
)

// Service orchestrates ingestion, queries and backup over the record
// store and the recognition capability.
type Service struct {
	db          DB
	recognizer  recognition.Recognizer
	thumbnailer Thumbnailer
	files       FileStore
	extractor   Extractor
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, recognizer recognition.Recognizer, thumbnailer Thumbnailer, files FileStore, extractor Extractor) *Service {
	return &Service{
		db:          db,
		recognizer:  recognizer,
		thumbnailer: thumbnailer,
		files:       files,
		extractor:   extractor,
		idGenerator: &defaultIDGenerator{},
		timeSource:  &defaultTimeSource{},
	}
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, recognizer recognition.Recognizer, thumbnailer Thumbnailer, files FileStore, extractor Extractor, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		recognizer:  recognizer,
		thumbnailer: thumbnailer,
		files:       files,
		extractor:   extractor,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// BatchItem is one input image of an ingestion batch.
type BatchItem struct {
	Filename    string
	Data        []byte
	ContentType string
}

// BatchOptions carries the batch-level user inputs.
type BatchOptions struct {
	Manual    Manual
	Recognize bool
}

// ItemError records a per-item ingestion failure.
type ItemError struct {
	Filename string
	Err      error
}

// BatchResult is the outcome of one ingestion batch. Created holds the
// persisted records in input order; Failed holds the items that could not
// be persisted. A recognition failure alone does not fail an item.
type BatchResult struct {
	Created []*Canhoto
	Failed  []ItemError
}

// ProcessBatch ingests a batch of images sequentially. Each item is
// recognized (optionally), extracted, resolved against the batch-level
// manual inputs and the filename, encoded, and written to the store. A
// failure on one item never aborts the remaining items. progress, when
// non-nil, is called after every item with monotonically non-decreasing
// counts, failed items included.
func (s *Service) ProcessBatch(ctx context.Context, items []BatchItem, opts BatchOptions, progress func(done, total int)) *BatchResult {
	result := &BatchResult{
		Created: make([]*Canhoto, 0, len(items)),
	}
	total := len(items)

	for done, item := range items {
		c, err := s.processItem(ctx, item, opts)
		if err != nil {
			slog.Error("Failed to process item", "filename", item.Filename, "error", err)
			result.Failed = append(result.Failed, ItemError{Filename: item.Filename, Err: err})
		} else {
			result.Created = append(result.Created, c)
		}
		if progress != nil {
			progress(done+1, total)
		}
	}

	return result
}

// processItem runs the pipeline for a single image.
func (s *Service) processItem(ctx context.Context, item BatchItem, opts BatchOptions) (*Canhoto, error) {
	mime := item.ContentType
	if mime == "" {
		mime = "image/jpeg"
	}

	var text string
	if opts.Recognize {
		recognized, err := s.recognizer.Recognize(ctx, item.Data, mime)
		if err != nil {
			// Non-fatal: the item proceeds with empty recognized text.
			slog.Warn("Recognition failed", "filename", item.Filename, "error", err)
		} else {
			text = recognized
		}
	}

	resolved := Resolve(s.extractor, opts.Manual, text, item.Filename)

	thumb, err := s.thumbnailer.Thumbnail(item.Data, mime)
	if err != nil {
		return nil, fmt.Errorf("generating thumbnail: %w", err)
	}

	c := &Canhoto{
		ID:       s.idGenerator.Generate(),
		Num:      resolved.Num,
		Date:     resolved.Date,
		Store:    resolved.Store,
		Path:     resolved.Path,
		Mime:     mime,
		ImageB64: base64.StdEncoding.EncodeToString(item.Data),
		ThumbB64: thumb,
		OCRText:  text,
	}

	if err := s.db.SaveCanhoto(c); err != nil {
		return nil, fmt.Errorf("saving canhoto: %w", err)
	}

	return c, nil
}

// GetCanhoto retrieves a record by ID
func (s *Service) GetCanhoto(id string) (*Canhoto, error) {
	c, err := s.db.GetCanhoto(id)
	if err != nil {
		return nil, fmt.Errorf("getting canhoto: %w", err)
	}
	return c, nil
}

// GetImage returns the stored full-resolution image bytes and media type
// for a record.
func (s *Service) GetImage(id string) ([]byte, string, error) {
	c, err := s.db.GetCanhoto(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting canhoto: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(c.ImageB64)
	if err != nil {
		return nil, "", fmt.Errorf("decoding stored image: %w", err)
	}
	return data, c.Mime, nil
}

// DeleteCanhoto removes a record
func (s *Service) DeleteCanhoto(id string) error {
	if err := s.db.DeleteCanhoto(id); err != nil {
		return fmt.Errorf("deleting canhoto: %w", err)
	}
	return nil
}

// Search finds records by receipt number and/or date. At least one of the
// two must be supplied. With a number, the date narrows the number lookup;
// with only a date, all records of that date match.
func (s *Service) Search(num, date string) ([]*Canhoto, error) {
	if num == "" && date == "" {
		return nil, ErrEmptyQuery
	}
	var (
		out []*Canhoto
		err error
	)
	if num != "" {
		out, err = s.db.FindByNumber(num, date)
	} else {
		out, err = s.db.FindByDate(date)
	}
	if err != nil {
		return nil, fmt.Errorf("searching canhotos: %w", err)
	}
	return out, nil
}

// Browse lists records for a date, optionally narrowed to one store. The
// store code is normalized before lookup since leading zeros are not
// significant.
func (s *Service) Browse(date, store string) ([]*Canhoto, error) {
	if date == "" {
		return nil, ErrDateRequired
	}
	out, err := s.db.FindByDateAndStore(date, stripLeadingZeros(store))
	if err != nil {
		return nil, fmt.Errorf("browsing canhotos: %w", err)
	}
	return out, nil
}

// ListCanhotos returns all records
func (s *Service) ListCanhotos() ([]*Canhoto, error) {
	out, err := s.db.ListCanhotos()
	if err != nil {
		return nil, fmt.Errorf("listing canhotos: %w", err)
	}
	return out, nil
}

// Export produces a backup document holding every record.
func (s *Service) Export() (*Backup, error) {
	items, err := s.db.ListCanhotos()
	if err != nil {
		return nil, fmt.Errorf("exporting canhotos: %w", err)
	}
	return &Backup{
		Version:    backupVersion,
		ExportedAt: s.timeSource.Now().UTC().Format(time.RFC3339),
		Items:      items,
	}, nil
}

// Import re-writes every record of a backup document, overwriting records
// that share an id. The document shape is validated before anything is
// written; a malformed document is refused as a whole.
func (s *Service) Import(doc *Backup) (int, error) {
	if err := doc.validate(); err != nil {
		return 0, err
	}
	for i, c := range doc.Items {
		if err := s.db.SaveCanhoto(c); err != nil {
			return i, fmt.Errorf("importing canhoto %s: %w", c.ID, err)
		}
	}
	return len(doc.Items), nil
}

// ExportToFile writes a dated backup document into the backup directory
// and returns the filename.
func (s *Service) ExportToFile() (string, error) {
	doc, err := s.Export()
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding backup: %w", err)
	}
	name := fmt.Sprintf("backup_canhotos_%s.json", s.timeSource.Now().UTC().Format("2006-01-02"))
	saved, err := s.files.WriteFile(name, data)
	if err != nil {
		return "", fmt.Errorf("writing backup file: %w", err)
	}
	return saved, nil
}

// ImportFromFile reads a backup document from the backup directory and
// imports it.
func (s *Service) ImportFromFile(name string) (int, error) {
	data, err := s.files.ReadFile(name)
	if err != nil {
		return 0, fmt.Errorf("reading backup file: %w", err)
	}
	var doc Backup
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadBackup, err)
	}
	return s.Import(&doc)
}
