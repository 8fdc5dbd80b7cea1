package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tsawler/docworker/client"
	"github.com/tsawler/docworker/rpc"
	"github.com/tsawler/docworker/source"
	"github.com/tsawler/docworker/store"
	"github.com/tsawler/docworker/telemetry"
	"github.com/tsawler/docworker/text"
	"github.com/tsawler/docworker/worker"
)

// session is a document opened in an in-process worker.
type session struct {
	doc   *client.Document
	close func()
}

// openLocal starts a worker on a pipe and opens a file or an http(s) URL
// in it.
func openLocal(ctx context.Context, a *app, target, password string) (*session, error) {
	opts := client.OpenOptions{
		Password:         password,
		DisableAutoFetch: a.cfg.DisableAutoFetch,
		EnableXFA:        a.cfg.EnableXFA,
	}
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		opts.URL = target
	} else {
		data, err := os.ReadFile(target)
		if err != nil {
			return nil, err
		}
		opts.Data = data
		opts.Filename = target
	}

	wopts := worker.Options{
		Logger:  a.log,
		Metrics: telemetry.NewMetrics(nil),
		HTTP: source.HTTPOptions{
			RequestsPerSecond: a.cfg.HTTP.RateLimit,
			Burst:             a.cfg.HTTP.Burst,
		},
		RangeChunkSize: a.cfg.RangeChunkSize,
	}
	var st *store.Store
	if a.cfg.Store.Path != "" {
		var err error
		if st, err = store.Open(a.cfg.Store.Path); err != nil {
			return nil, err
		}
		wopts.Revisions = st
	}

	hostEnd, workerEnd := rpc.Pipe()
	srv := worker.NewServer(workerEnd, wopts)
	c := client.New(hostEnd, a.log)
	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Close(ctx)
		c.Close()
		if st != nil {
			st.Close()
		}
	}
	if err := srv.Start(ctx); err != nil {
		shutdown()
		return nil, err
	}
	if err := c.WaitReady(ctx); err != nil {
		shutdown()
		return nil, err
	}
	doc, err := c.Open(ctx, opts)
	if err != nil {
		shutdown()
		var we *rpc.WireError
		if errors.As(err, &we) && we.Name == rpc.PasswordException {
			return nil, fmt.Errorf("%s needs a password (--password): %w", target, err)
		}
		return nil, err
	}
	return &session{doc: doc, close: shutdown}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type docInfo struct {
	NumPages     int            `json:"numPages"`
	Fingerprints [2]string      `json:"fingerprints"`
	Info         map[string]any `json:"info"`
	HasXMP       bool           `json:"hasXmp"`
	PageLayout   string         `json:"pageLayout,omitempty"`
	PageMode     string         `json:"pageMode,omitempty"`
	Fields       int            `json:"fields"`
	HasJSActions bool           `json:"hasJsActions"`
}

func newInfoCmd(a *app) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "info FILE|URL",
		Short: "Print document facts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openLocal(ctx, a, args[0], password)
			if err != nil {
				return err
			}
			defer s.close()

			d := s.doc
			out := docInfo{NumPages: d.NumPages(), Fingerprints: d.Fingerprints()}
			var xmp string
			if out.Info, xmp, err = d.Metadata(ctx); err != nil {
				return err
			}
			out.HasXMP = xmp != ""
			if out.PageLayout, err = d.PageLayout(ctx); err != nil {
				return err
			}
			if out.PageMode, err = d.PageMode(ctx); err != nil {
				return err
			}
			fields, err := d.FieldObjects(ctx)
			if err != nil {
				return err
			}
			out.Fields = len(fields)
			if out.HasJSActions, err = d.HasJSActions(ctx); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if a.jsonOut {
				return printJSON(w, out)
			}
			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "Pages:\t%d\n", out.NumPages)
			fmt.Fprintf(tw, "Fingerprint:\t%s\n", out.Fingerprints[0])
			if out.Fingerprints[1] != "" {
				fmt.Fprintf(tw, "Changed:\t%s\n", out.Fingerprints[1])
			}
			keys := make([]string, 0, len(out.Info))
			for k := range out.Info {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(tw, "%s:\t%v\n", k, out.Info[k])
			}
			fmt.Fprintf(tw, "XMP:\t%t\n", out.HasXMP)
			fmt.Fprintf(tw, "Form fields:\t%d\n", out.Fields)
			fmt.Fprintf(tw, "JavaScript:\t%t\n", out.HasJSActions)
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "Document password")
	return cmd
}

func newTextCmd(a *app) *cobra.Command {
	var (
		password string
		page     int
	)
	cmd := &cobra.Command{
		Use:   "text FILE|URL",
		Short: "Print the text of pages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openLocal(ctx, a, args[0], password)
			if err != nil {
				return err
			}
			defer s.close()

			first, last := 0, s.doc.NumPages()-1
			if page > 0 {
				if page > s.doc.NumPages() {
					return fmt.Errorf("page %d out of range, document has %d", page, s.doc.NumPages())
				}
				first, last = page-1, page-1
			}
			w := cmd.OutOrStdout()
			enc := json.NewEncoder(w)
			for i := first; i <= last; i++ {
				var sb strings.Builder
				err := s.doc.TextContent(ctx, i, client.TextContentOptions{}, func(c text.Chunk) error {
					for _, item := range c.Items {
						sb.WriteString(item.Str)
						if item.HasEOL {
							sb.WriteByte('\n')
						}
					}
					return nil
				})
				if err != nil {
					return fmt.Errorf("page %d: %w", i+1, err)
				}
				if a.jsonOut {
					if err := enc.Encode(map[string]any{"page": i + 1, "text": sb.String()}); err != nil {
						return err
					}
					continue
				}
				fmt.Fprintf(w, "--- page %d ---\n%s\n", i+1, strings.TrimRight(sb.String(), "\n"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "Document password")
	cmd.Flags().IntVar(&page, "page", 0, "Page number, starting at 1 (default all)")
	return cmd
}

func newSaveCmd(a *app) *cobra.Command {
	var (
		password string
		out      string
		fields   []string
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "save FILE",
		Short: "Fill form fields and write an incremental update",
		Long: "Save sets form fields given as --field name=value and writes the\n" +
			"document with the changes appended. Checkboxes take true or false.\n" +
			"When store.path is configured the result is recorded as a revision.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if out == "" {
				return errors.New("--out is required")
			}
			s, err := openLocal(ctx, a, args[0], password)
			if err != nil {
				return err
			}
			defer s.close()

			storage, err := fieldStorage(ctx, s.doc, fields)
			if err != nil {
				return err
			}
			data, err := s.doc.Save(ctx, client.SaveRequest{
				NumPages:          s.doc.NumPages(),
				AnnotationStorage: storage,
				Filename:          args[0],
			})
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			a.log.Info("document saved", "out", out, "bytes", len(data), "fields", len(storage))
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "Document password")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file")
	cmd.Flags().StringArrayVar(&fields, "field", nil, "Field value as name=value (repeatable)")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Give up after this long")
	return cmd
}

// fieldStorage maps name=value pairs onto the widgets of the named fields.
func fieldStorage(ctx context.Context, d *client.Document, pairs []string) (map[string]json.RawMessage, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	objects, err := d.FieldObjects(ctx)
	if err != nil {
		return nil, err
	}
	storage := make(map[string]json.RawMessage)
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("field %q is not name=value", pair)
		}
		widgets := objects[name]
		if len(widgets) == 0 {
			return nil, fmt.Errorf("no form field named %q", name)
		}
		for _, w := range widgets {
			var v any = value
			if w.Type == "checkbox" || w.Type == "radiobutton" {
				v = value == "true" || value == "on" || value == "yes"
			}
			raw, err := json.Marshal(map[string]any{"value": v})
			if err != nil {
				return nil, err
			}
			storage[w.ID] = raw
		}
	}
	return storage, nil
}
