package gcp

import (
	"testing"
)

func TestParseShardPages(t *testing.T) {
	data := []byte(`{
		"responses": [
			{"fullTextAnnotation": {"text": "page one", "pages": [{"confidence": 0.9}]}},
			{"fullTextAnnotation": {"text": "page two", "pages": [{"confidence": 0.7}]}},
			{"fullTextAnnotation": {"text": "", "pages": []}}
		]
	}`)
	pages, err := parseShardPages(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(pages) != 3 {
		t.Fatalf("pages: want=3 got=%d", len(pages))
	}
	if pages[0].text != "page one" || pages[0].confidence != 0.9 {
		t.Fatalf("page 0: got=%+v", pages[0])
	}
	if pages[1].text != "page two" || pages[1].confidence != 0.7 {
		t.Fatalf("page 1: got=%+v", pages[1])
	}
	if pages[2].text != "" {
		t.Fatalf("page 2: want empty text got=%q", pages[2].text)
	}

	if _, err := parseShardPages([]byte("not json")); err == nil {
		t.Fatalf("expected error for malformed shard")
	}
}

func TestSplitGCSURI(t *testing.T) {
	bucket, key, err := splitGCSURI("gs://my-bucket/vision_output/abc/")
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if bucket != "my-bucket" || key != "vision_output/abc/" {
		t.Fatalf("split: got=(%q,%q)", bucket, key)
	}

	if _, _, err := splitGCSURI("http://not-gcs"); err == nil {
		t.Fatalf("expected error for non-gcs uri")
	}
}
