// Package warc provides an analysis service that carves HTTP response bodies
// out of WARC archives and adds each one as a new sample related to the archive.
package warc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"

	"github.com/nlnwa/gowarc/v2"

	"github.com/ahrav/analysis-armada/internal/domain/analysis"
)

// Entry is the catalog entry name of the service.
const Entry = "warc"

// SubtypeRecord is the result subtype recorded for each carved response.
const SubtypeRecord = "warc_response"

// RelationshipExtracted links carved bodies to the archive they came from.
const RelationshipExtracted = "Extracted_From"

var _ analysis.Plugin = (*Service)(nil)

var definition = analysis.Definition{
	Name:           "warc",
	Version:        "1.0.0",
	Description:    "Extracts HTTP response payloads from WARC archives.",
	SupportedTypes: []string{"Sample"},
	RequiredFields: []string{"filedata"},
	Rerunnable:     true,
	DefaultConfig: []analysis.ConfigOption{
		analysis.MustConfigOption("max_records", analysis.OptionInt,
			analysis.WithDescription("Maximum number of response records to carve."),
			analysis.WithDefault(500)),
		analysis.MustConfigOption("min_size", analysis.OptionInt,
			analysis.WithDescription("Skip bodies smaller than this many bytes."),
			analysis.WithDefault(1)),
		analysis.MustConfigOption("only_success", analysis.OptionBool,
			analysis.WithDescription("Only carve responses with a 2xx status code."),
			analysis.WithDefault(true)),
	},
}

// Register adds the service to c.
func Register(c *analysis.Catalog) { c.Register(Entry, New) }

// New returns a fresh service instance.
func New() analysis.Plugin { return &Service{} }

// Service carves WARC response records.
type Service struct{}

func (*Service) Definition() analysis.Definition { return definition }

func (*Service) Analyze(ctx context.Context, run *analysis.Execution, obj analysis.Object) error {
	po, ok := obj.(analysis.PayloadObject)
	if !ok {
		return analysis.ErrNoPayload
	}

	cfg := run.Config()
	maxRecords, _ := cfg.Int("max_records")
	minSize, _ := cfg.Int("min_size")
	onlySuccess := cfg.Bool("only_success")

	rc, err := po.Payload(ctx)
	if err != nil {
		return fmt.Errorf("reading payload: %w", err)
	}
	defer rc.Close()

	src := &countingReader{r: rc}
	reader, err := gowarc.NewWarcFileReaderFromStream(src, 0)
	if err != nil {
		return fmt.Errorf("failed to create WARC reader: %w", err)
	}

	var carved, skipped int
	for maxRecords <= 0 || carved < maxRecords {
		if err := ctx.Err(); err != nil {
			return err
		}

		record, _, _, err := reader.Next()
		if errors.Is(err, io.EOF) {
			// The reader reports EOF when it never finds a record header, so
			// bytes with no records mean the payload is not an archive.
			if carved == 0 && skipped == 0 && src.n > 0 {
				return errors.New("not a WARC archive")
			}
			break
		}
		if err != nil {
			if carved == 0 && skipped == 0 {
				return fmt.Errorf("not a WARC archive: %w", err)
			}
			run.Warning("Stopped reading archive: %v", err)
			break
		}

		ok, err := carve(run, record, minSize, onlySuccess)
		record.Close()
		if err != nil {
			return err
		}
		if ok {
			carved++
			run.Notify(ctx)
		} else {
			skipped++
		}
	}

	run.Info("Carved %d responses, skipped %d records", carved, skipped)
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// carve extracts a single response record. It reports false for records
// that are filtered out.
func carve(run *analysis.Execution, record gowarc.WarcRecord, minSize int, onlySuccess bool) (bool, error) {
	if record.Type() != gowarc.Response {
		return false, nil
	}

	uri := record.WarcHeader().Get(gowarc.WarcTargetURI)
	status := 0

	var body io.Reader
	if hb, ok := record.Block().(gowarc.HttpResponseBlock); ok {
		status = hb.HttpStatusCode()
		if onlySuccess && (status < 200 || status > 299) {
			return false, nil
		}
		r, err := hb.PayloadBytes()
		if err != nil {
			run.Warning("Unreadable response body for %s: %v", uri, err)
			return false, nil
		}
		body = r
	} else {
		r, err := record.Block().RawBytes()
		if err != nil {
			run.Warning("Unreadable record block for %s: %v", uri, err)
			return false, nil
		}
		body = r
	}

	data, err := io.ReadAll(body)
	if err != nil {
		run.Warning("Failed reading body for %s: %v", uri, err)
		return false, nil
	}
	if len(data) < minSize {
		return false, nil
	}

	md5, err := run.AddFile(data, analysis.FileOptions{
		Filename:     filenameFor(uri),
		Relationship: RelationshipExtracted,
	})
	if err != nil {
		return false, err
	}
	return true, run.AddResult(SubtypeRecord, uri, map[string]any{
		"status": status,
		"md5":    md5,
		"size":   len(data),
	})
}

// filenameFor derives an artifact name from the last path segment of uri.
// An empty result lets AddFile fall back to the md5.
func filenameFor(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		return u.Hostname()
	}
	return name
}
