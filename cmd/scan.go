package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/sw33tLie/xtmscope/pkg/matcher"
	"github.com/sw33tLie/xtmscope/pkg/router"
	"github.com/sw33tLie/xtmscope/pkg/whttp"
)

var scanCmd = &cobra.Command{
	Use:   "scan [file|url|-]",
	Short: "Find cached entities, observables and CVEs in a file, a web page or stdin",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		family, _ := cmd.Flags().GetString("family")
		typ, err := scanMessage(family)
		if err != nil {
			return err
		}

		ctx := context.Background()
		src := "-"
		if len(args) == 1 {
			src = args[0]
		}
		isHTML, _ := cmd.Flags().GetBool("html")
		attackPatterns, _ := cmd.Flags().GetBool("attack-patterns")
		p := router.ScanPayload{HTML: isHTML, IncludeAttackPatterns: attackPatterns}

		switch {
		case src == "-":
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				return err
			}
			p.Content = string(b)
		case strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://"):
			client, err := whttp.NewClient(s.HTTPClientConfig(2))
			if err != nil {
				return err
			}
			res, err := client.SendHTTPRequest(ctx, &whttp.WHTTPReq{
				URL:     src,
				Method:  "GET",
				Headers: []whttp.WHTTPHeader{{Name: "Accept", Value: "text/html,*/*"}},
			})
			if err != nil {
				return err
			}
			if res.StatusCode >= 300 {
				return &whttp.StatusError{StatusCode: res.StatusCode, URL: src}
			}
			p.Content, p.URL, p.HTML = res.BodyString, src, true
		default:
			b, err := os.ReadFile(src)
			if err != nil {
				return err
			}
			p.Content = string(b)
			if strings.HasSuffix(src, ".html") || strings.HasSuffix(src, ".htm") {
				p.HTML = true
			}
		}

		a, err := newApp(s, 0)
		if err != nil {
			return err
		}
		defer a.close()

		data, err := a.dispatch(ctx, typ, p)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(data)
		}
		return printScan(os.Stdout, data)
	},
}

func scanMessage(family string) (router.MessageType, error) {
	switch strings.ToLower(family) {
	case "", "all":
		return router.ScanAll, nil
	case "opencti":
		return router.ScanPage, nil
	case "openaev":
		return router.ScanOtherPlatform, nil
	}
	return "", fmt.Errorf("unknown family %q (available: all, opencti, openaev)", family)
}

func printScan(out io.Writer, data interface{}) error {
	var res router.ScanResult
	switch v := data.(type) {
	case router.ScanResult:
		res = v
	case router.EntitiesResult:
		res.Entities = v.Entities
	default:
		return fmt.Errorf("unexpected scan payload %T", data)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if res.Title != "" {
		fmt.Fprintf(w, "Title: %s\n\n", res.Title)
	}
	fmt.Fprintln(w, "KIND\tTYPE\tVALUE\tPOSITION\tREF\t")
	for _, e := range res.Entities {
		fmt.Fprintf(w, "entity\t%s\t%s\t%d-%d\t%s\t\n", e.Type, e.Value, e.StartIndex, e.EndIndex, entityRef(e))
	}
	for _, o := range res.Observables {
		typ := o.Type
		if o.HashType != "" {
			typ += " (" + o.HashType + ")"
		}
		fmt.Fprintf(w, "observable\t%s\t%s\t%d-%d\t\t\n", typ, o.Value, o.StartIndex, o.EndIndex)
	}
	for _, c := range res.CVEs {
		ref := ""
		if c.EntityID != "" {
			ref = c.PlatformID + "/" + c.EntityID
		}
		fmt.Fprintf(w, "cve\tVulnerability\t%s\t%d-%d\t%s\t\n", c.ID, c.StartIndex, c.EndIndex, ref)
	}
	return w.Flush()
}

func entityRef(e matcher.DetectedEntity) string {
	ref := e.PlatformID + "/" + e.EntityID
	if !strings.EqualFold(e.Name, e.Value) {
		ref += " (" + e.Name + ")"
	}
	return ref
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().String("family", "all", "Entities to look for: all, opencti or openaev")
	scanCmd.Flags().Bool("html", false, "Treat the input as HTML (implied for URLs and .html files)")
	scanCmd.Flags().Bool("attack-patterns", false, "Also report attack patterns (T1566 and friends)")
	scanCmd.Flags().Bool("json", false, "Print the result as JSON")
}
