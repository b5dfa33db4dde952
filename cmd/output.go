package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/sw33tLie/xtmscope/pkg/router"
)

func newRequest(typ router.MessageType, payload interface{}) (router.Request, error) {
	req := router.Request{Type: typ}
	if payload == nil {
		return req, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return req, err
	}
	req.Payload = raw
	return req, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printStats(out io.Writer, data interface{}) error {
	stats, ok := data.(router.CacheStats)
	if !ok {
		return fmt.Errorf("unexpected stats payload %T", data)
	}
	if len(stats.ByPlatform) == 0 {
		fmt.Fprintln(out, "No platform has been cached yet.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "PLATFORM\tTYPE\tENTITIES\tAGE\tSTATE\t")
	for _, p := range stats.ByPlatform {
		name := p.PlatformID
		if p.Name != "" {
			name = fmt.Sprintf("%s (%s)", p.Name, p.PlatformID)
		}
		age := (time.Duration(p.AgeMs) * time.Millisecond).Round(time.Second)
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t\n", name, p.PlatformType, p.Total, age, p.Freshness)
	}
	fmt.Fprintln(w, " \t \t \t \t \t")
	fmt.Fprintf(w, "TOTAL\t\t%d\t\t\t\n", stats.Total)
	if stats.IsRefreshing {
		fmt.Fprintln(w, "(a refresh is in progress)\t\t\t\t\t")
	}
	return w.Flush()
}
