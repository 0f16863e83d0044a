package grader

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DebugPrintSelector prints either outer HTML or text of matches for a
// selector, each followed by a blank line. It backs the command's -selector
// mode, which helps authors write checks files.
func DebugPrintSelector(w io.Writer, src, selector string, textOnly bool) error {
	doc, err := ParseDocument(src)
	if err != nil {
		return err
	}
	sel, err := CompileSelector(selector)
	if err != nil {
		return err
	}

	doc.FindMatcher(sel).Each(func(_ int, s *goquery.Selection) {
		if textOnly {
			fmt.Fprintln(w, strings.TrimSpace(s.Text()))
			fmt.Fprintln(w)
			return
		}
		out, err := goquery.OuterHtml(s)
		if err != nil {
			in, _ := s.Html()
			fmt.Fprintln(w, in)
			fmt.Fprintln(w)
			return
		}
		fmt.Fprintln(w, out)
		fmt.Fprintln(w)
	})
	return nil
}
