package importer

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const wordMLNamespace = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

// DOCX extracts paragraph text from a Word document, one line per
// paragraph. Tabs and line breaks inside a paragraph are kept.
type DOCX struct{}

func (DOCX) Import(_ context.Context, path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("importer: open docx %s: %w", path, err)
	}
	defer zr.Close()

	f, err := zr.Open("word/document.xml")
	if err != nil {
		return "", fmt.Errorf("importer: docx %s: %w", path, err)
	}
	defer f.Close()

	text, err := docxParagraphs(f)
	if err != nil {
		return "", fmt.Errorf("importer: parse docx %s: %w", path, err)
	}
	return text, nil
}

// docxParagraphs walks document.xml and joins the text runs of every w:p.
func docxParagraphs(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)

	var (
		paragraphs []string
		current    strings.Builder
		inPara     int
		inText     bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space != wordMLNamespace {
				continue
			}
			switch t.Name.Local {
			case "p":
				if inPara == 0 {
					current.Reset()
				}
				inPara++
			case "t":
				inText = true
			case "tab":
				current.WriteByte('\t')
			case "br", "cr":
				current.WriteByte('\n')
			}
		case xml.EndElement:
			if t.Name.Space != wordMLNamespace {
				continue
			}
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				inPara--
				if inPara == 0 {
					paragraphs = append(paragraphs, current.String())
				}
			}
		case xml.CharData:
			if inText && inPara > 0 {
				current.Write(t)
			}
		}
	}
	return strings.Join(paragraphs, "\n"), nil
}
