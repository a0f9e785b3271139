package xdm

import (
	"encoding/xml"
	"fmt"
)

// Directory is a parsed xcap-directory document.
type Directory struct {
	Folders map[string]Folder
}

// Folder lists the document of one application usage.
type Folder struct {
	AUID  string
	Entry *Entry
}

// Entry is one stored document.
type Entry struct {
	URI  string
	ETag string
}

type xmlDirectory struct {
	XMLName xml.Name    `xml:"xcap-directory"`
	Folders []xmlFolder `xml:"folder"`
}

type xmlFolder struct {
	AUID    string     `xml:"auid,attr"`
	Entries []xmlEntry `xml:"entry"`
}

type xmlEntry struct {
	URI  string `xml:"uri,attr"`
	ETag string `xml:"etag,attr"`
}

// ParseDirectory decodes an xcap-directory document. A folder without an
// entry is kept with a nil Entry.
func ParseDirectory(data []byte) (*Directory, error) {
	var doc xmlDirectory
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: directory: %v", ErrMalformedResponse, err)
	}
	dir := &Directory{Folders: make(map[string]Folder, len(doc.Folders))}
	for _, f := range doc.Folders {
		folder := Folder{AUID: f.AUID}
		if len(f.Entries) > 0 {
			e := f.Entries[0]
			folder.Entry = &Entry{URI: e.URI, ETag: unquoteETag(e.ETag)}
		}
		dir.Folders[f.AUID] = folder
	}
	return dir, nil
}

// Has reports whether the directory lists a document for auid.
func (d *Directory) Has(auid string) bool {
	f, ok := d.Folders[auid]
	return ok && f.Entry != nil
}
