package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"text/tabwriter"

	"wearbridge/internal/core"
	"wearbridge/internal/errors"
	"wearbridge/internal/metrics"
	"wearbridge/internal/session"
	"wearbridge/internal/transport"
)

// output is the host boundary: every value leaving the process passes
// through Print, as a JSON line or as human-readable text.
type output struct {
	mu   sync.Mutex
	w    io.Writer
	json bool
}

func newOutput(w io.Writer, asJSON bool) *output {
	return &output{w: w, json: asJSON}
}

type jsonRecord struct {
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

// Print writes one record.  A value that cannot be encoded yields
// ErrSerializationFailed.
func (o *output) Print(kind string, v any) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.json {
		data, err := json.Marshal(jsonRecord{Kind: kind, Data: v})
		if err != nil {
			return fmt.Errorf("%s: %w: %v", kind, errors.ErrSerializationFailed, err)
		}
		data = append(data, '\n')
		_, err = o.w.Write(data)
		return err
	}
	return o.text(kind, v)
}

func (o *output) text(kind string, v any) error {
	switch x := v.(type) {
	case []transport.PortInfo:
		if len(x) == 0 {
			_, err := fmt.Fprintln(o.w, "no serial ports found")
			return err
		}
		tw := tabwriter.NewWriter(o.w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PORT\tUSB\tVID:PID\tSERIAL\tPRODUCT")
		for _, p := range x {
			usb, ids := "no", "-"
			if p.IsUSB {
				usb = "yes"
				ids = p.VendorID + ":" + p.ProductID
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.Name, usb, ids, dash(p.SerialNumber), dash(p.Product))
		}
		return tw.Flush()
	case transport.Peer:
		_, err := fmt.Fprintf(o.w, "nudged %q (%s)\n", x.Name, x.ID)
		return err
	case session.Event:
		name := x.Info.Name
		if name == "" {
			name = "-"
		}
		_, err := fmt.Fprintf(o.w, "%s %s %s\n", x.Name, name, x.Info.Address)
		return err
	case core.Classification:
		if x.Resource != 0 {
			_, err := fmt.Fprintf(o.w, "%s: %s (resource %d, %d bytes)\n", x.File, x.Type, x.Resource, x.Size)
			return err
		}
		_, err := fmt.Fprintf(o.w, "%s: %s (%d bytes)\n", x.File, x.Type, x.Size)
		return err
	case metrics.Snapshot:
		tw := tabwriter.NewWriter(o.w, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "sessions\t%d total, %d active\n", x.SessionsTotal, x.SessionsActive)
		fmt.Fprintf(tw, "bytes\t%d in, %d out\n", x.BytesIn, x.BytesOut)
		fmt.Fprintf(tw, "disconnects\t%d local, %d remote\n", x.LocalDisconnects, x.RemoteDisconnects)
		fmt.Fprintf(tw, "progress\t%d relayed, %d dropped\n", x.ProgressRelayed, x.ProgressDropped)
		fmt.Fprintf(tw, "errors\t%d\n", x.ErrorsTotal)
		if x.LastErrorMessage != "" {
			fmt.Fprintf(tw, "last error\t%s (%s)\n", x.LastErrorMessage, x.LastError)
		}
		fmt.Fprintf(tw, "uptime\t%s\n", x.Uptime)
		return tw.Flush()
	default:
		_, err := fmt.Fprintf(o.w, "%s: %v\n", kind, v)
		return err
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
