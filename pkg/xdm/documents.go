package xdm

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
)

// Application usage ids of the managed documents.
const (
	AUIDDirectory     = "org.openmobilealliance.xcap-directory"
	AUIDRLSServices   = "rls-services"
	AUIDResourceLists = "resource-lists"
	AUIDPresRules     = "org.openmobilealliance.pres-rules"
)

// Content types.
const (
	ContentTypeRLSServices   = "application/rls-services+xml"
	ContentTypeResourceLists = "application/resource-lists+xml"
	ContentTypeAuthPolicy    = "application/auth-policy+xml"
	ContentTypeElement       = "application/xcap-el+xml"
)

// Contact list names.
const (
	ListGranted = "rcs"
	ListBlocked = "rcs_blockedcontacts"
	ListRevoked = "rcs_revokedcontacts"
)

// EncodeURI percent-encodes a URI for use as a single XCAP path segment.
func EncodeURI(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func (c *Client) userPath(auid, doc string) string {
	return "/" + auid + "/users/" + EncodeURI(c.config.PublicURI) + "/" + doc
}

// DirectoryURL is the URL of the subscriber's xcap-directory.
func (c *Client) DirectoryURL() string { return c.userPath(AUIDDirectory, "directory.xml") }

// RLSServicesURL is the URL of the rls-services document.
func (c *Client) RLSServicesURL() string { return c.userPath(AUIDRLSServices, "index") }

// ResourceListsURL is the URL of the resource-lists document.
func (c *Client) ResourceListsURL() string { return c.userPath(AUIDResourceLists, "index") }

// PresRulesURL is the URL of the presence authorization rules.
func (c *Client) PresRulesURL() string { return c.userPath(AUIDPresRules, "pres-rules") }

// ListURL is the node selector URL of one named list.
func (c *Client) ListURL(list string) string {
	return c.ResourceListsURL() + "/~~/resource-lists/list%5B@name=%22" + list + "%22%5D"
}

// EntryURL is the node selector URL of one contact entry in a list.
func (c *Client) EntryURL(list, contact string) string {
	return c.ListURL(list) + "/entry%5B@uri=%22" + EncodeURI(contact) + "%22%5D"
}

// Initialize fetches the directory, records the ETags it lists and creates
// the rls-services, resource-lists and pres-rules documents that are
// missing. Existing documents are not touched.
func (c *Client) Initialize(ctx context.Context) error {
	resp, err := c.SendRequest(ctx, &Request{Method: "GET", URL: c.DirectoryURL()})
	if err != nil {
		return fmt.Errorf("xdm: fetch directory: %w", err)
	}
	dir, err := ParseDirectory(resp.Body)
	if err != nil {
		return err
	}

	for auid, f := range dir.Folders {
		c.etags.Track(auid)
		if f.Entry != nil && f.Entry.ETag != "" {
			c.etags.Set(auid, f.Entry.ETag)
		}
	}

	missing := []struct {
		auid string
		set  func(context.Context) error
	}{
		{AUIDRLSServices, c.SetRCSList},
		{AUIDResourceLists, c.SetResourceLists},
		{AUIDPresRules, c.SetPresenceRules},
	}
	for _, m := range missing {
		c.etags.Track(m.auid)
		if dir.Has(m.auid) {
			continue
		}
		if c.log != nil {
			c.log.Infof("creating default %s document", m.auid)
		}
		if err := m.set(ctx); err != nil {
			return fmt.Errorf("xdm: create %s: %w", m.auid, err)
		}
	}
	return nil
}

// GetRCSList fetches the rls-services document.
func (c *Client) GetRCSList(ctx context.Context) ([]byte, error) {
	return c.get(ctx, c.RLSServicesURL())
}

// SetRCSList stores the default rls-services document.
func (c *Client) SetRCSList(ctx context.Context) error {
	return c.put(ctx, c.RLSServicesURL(), ContentTypeRLSServices, c.defaultRLSServices())
}

// GetResourceLists fetches the resource-lists document.
func (c *Client) GetResourceLists(ctx context.Context) ([]byte, error) {
	return c.get(ctx, c.ResourceListsURL())
}

// SetResourceLists stores the default resource-lists document.
func (c *Client) SetResourceLists(ctx context.Context) error {
	return c.put(ctx, c.ResourceListsURL(), ContentTypeResourceLists, c.defaultResourceLists())
}

// GetPresenceRules fetches the presence authorization rules.
func (c *Client) GetPresenceRules(ctx context.Context) ([]byte, error) {
	return c.get(ctx, c.PresRulesURL())
}

// SetPresenceRules stores the default presence authorization rules.
func (c *Client) SetPresenceRules(ctx context.Context) error {
	return c.put(ctx, c.PresRulesURL(), ContentTypeAuthPolicy, c.defaultPresRules())
}

// AddContact puts contact into list.
func (c *Client) AddContact(ctx context.Context, list, contact string) error {
	body := fmt.Sprintf("<entry uri='%s'></entry>", xmlEscape(contact))
	return c.put(ctx, c.EntryURL(list, contact), ContentTypeElement, body)
}

// RemoveContact deletes contact from list.
func (c *Client) RemoveContact(ctx context.Context, list, contact string) error {
	_, err := c.SendRequest(ctx, &Request{Method: "DELETE", URL: c.EntryURL(list, contact)})
	return err
}

// Contacts returns the entry URIs of list.
func (c *Client) Contacts(ctx context.Context, list string) ([]string, error) {
	body, err := c.get(ctx, c.ListURL(list))
	if err != nil {
		return nil, err
	}
	return ParseList(body)
}

// AddGrantedContact, AddBlockedContact and their counterparts act on the
// well-known lists.
func (c *Client) AddGrantedContact(ctx context.Context, contact string) error {
	return c.AddContact(ctx, ListGranted, contact)
}

func (c *Client) RemoveGrantedContact(ctx context.Context, contact string) error {
	return c.RemoveContact(ctx, ListGranted, contact)
}

func (c *Client) AddBlockedContact(ctx context.Context, contact string) error {
	return c.AddContact(ctx, ListBlocked, contact)
}

func (c *Client) RemoveBlockedContact(ctx context.Context, contact string) error {
	return c.RemoveContact(ctx, ListBlocked, contact)
}

func (c *Client) AddRevokedContact(ctx context.Context, contact string) error {
	return c.AddContact(ctx, ListRevoked, contact)
}

func (c *Client) RemoveRevokedContact(ctx context.Context, contact string) error {
	return c.RemoveContact(ctx, ListRevoked, contact)
}

// Get fetches an arbitrary document or node.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	return c.get(ctx, path)
}

// Put stores an arbitrary document or node.
func (c *Client) Put(ctx context.Context, path, contentType string, body []byte) error {
	_, err := c.SendRequest(ctx, &Request{Method: "PUT", URL: path, Content: body, ContentType: contentType})
	return err
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	resp, err := c.SendRequest(ctx, &Request{Method: "GET", URL: path})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) put(ctx context.Context, path, contentType, body string) error {
	return c.Put(ctx, path, contentType, []byte(body))
}

type xmlList struct {
	Entries []struct {
		URI string `xml:"uri,attr"`
	} `xml:"entry"`
}

// ParseList returns the entry URIs of a resource-lists list element.
func ParseList(data []byte) ([]string, error) {
	var l xmlList
	if err := xml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("%w: list: %v", ErrMalformedResponse, err)
	}
	uris := make([]string, 0, len(l.Entries))
	for _, e := range l.Entries {
		uris = append(uris, e.URI)
	}
	return uris, nil
}

func xmlEscape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

func (c *Client) defaultRLSServices() string {
	user := xmlEscape(c.config.PublicURI)
	list := xmlEscape(c.ServerAddr() + c.ListURL(ListGranted))
	return `<?xml version="1.0" encoding="UTF-8"?>
<rls-services xmlns="urn:ietf:params:xml:ns:rls-services" xmlns:rl="urn:ietf:params:xml:ns:resource-lists">
<service uri="` + user + `;pres-list=rcs">
<resource-list>` + list + `</resource-list>
<packages>
<package>presence</package>
</packages>
</service>
</rls-services>`
}

func (c *Client) defaultResourceLists() string {
	base := xmlEscape(c.ServerAddr() + c.ResourceListsURL() + "/~~/resource-lists/list%5B@name=%22")
	anchor := func(list string) string {
		return `<external anchor="` + base + list + `%22%5D"/>`
	}
	return `<?xml version="1.0" encoding="UTF-8"?>
<resource-lists xmlns="urn:ietf:params:xml:ns:resource-lists">
<list name="oma_buddylist">
` + anchor(ListGranted) + `
</list>
<list name="oma_grantedcontacts">
` + anchor(ListGranted) + `
</list>
<list name="oma_blockedcontacts">
` + anchor(ListBlocked) + `
` + anchor(ListRevoked) + `
</list>
<list name="rcs">
<display-name>My presence buddies</display-name>
</list>
<list name="rcs_blockedcontacts">
<display-name>My blocked contacts</display-name>
</list>
<list name="rcs_revokedcontacts">
<display-name>My revoked contacts</display-name>
</list>
</resource-lists>`
}

func (c *Client) defaultPresRules() string {
	user := xmlEscape(c.config.PublicURI)
	lists := xmlEscape(c.ServerAddr() + c.ResourceListsURL() + "/~~/resource-lists/list%5B@name=%22")
	transformations := `<cr:transformations>
<pr:provide-services><pr:all-services/></pr:provide-services>
<pr:provide-persons><pr:all-persons/></pr:provide-persons>
<pr:provide-devices><pr:all-devices/></pr:provide-devices>
<pr:provide-all-attributes/>
</cr:transformations>`
	return `<?xml version="1.0" encoding="UTF-8"?>
<cr:ruleset xmlns:ocp="urn:oma:xml:xdm:common-policy" xmlns:pr="urn:ietf:params:xml:ns:pres-rules" xmlns:cr="urn:ietf:params:xml:ns:common-policy">
<cr:rule id="wp_prs_allow_own">
<cr:conditions><cr:identity><cr:one id="` + user + `"/></cr:identity></cr:conditions>
<cr:actions><pr:sub-handling>allow</pr:sub-handling></cr:actions>
` + transformations + `
</cr:rule>
<cr:rule id="rcs_allow_services_anonymous">
<cr:conditions><ocp:anonymous-request/></cr:conditions>
<cr:actions><pr:sub-handling>allow</pr:sub-handling></cr:actions>
<cr:transformations>
<pr:provide-services><pr:all-services/></pr:provide-services>
<pr:provide-all-attributes/>
</cr:transformations>
</cr:rule>
<cr:rule id="wp_prs_unlisted">
<cr:conditions><ocp:other-identity/></cr:conditions>
<cr:actions><pr:sub-handling>confirm</pr:sub-handling></cr:actions>
</cr:rule>
<cr:rule id="wp_prs_grantedcontacts">
<cr:conditions>
<ocp:external-list><ocp:entry anc="` + lists + `oma_grantedcontacts%22%5D"/></ocp:external-list>
</cr:conditions>
<cr:actions><pr:sub-handling>allow</pr:sub-handling></cr:actions>
` + transformations + `
</cr:rule>
<cr:rule id="wp_prs_blockedcontacts">
<cr:conditions>
<ocp:external-list><ocp:entry anc="` + lists + `oma_blockedcontacts%22%5D"/></ocp:external-list>
</cr:conditions>
<cr:actions><pr:sub-handling>block</pr:sub-handling></cr:actions>
</cr:rule>
</cr:ruleset>`
}
