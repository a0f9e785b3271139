package xdm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pion/transport/v3/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okReply(body string) reply {
	return reply{Status: 200, Body: body}
}

func TestClient_DigestRetry(t *testing.T) {
	defer test.CheckRoutines(t)()

	s := newFakeXDMS(t, digestGate(func(int, *recordedRequest) reply {
		return okReply("<resource-lists/>")
	}))
	defer s.close()
	c := s.client(t)

	resp, err := c.SendRequest(context.Background(), &Request{Method: "GET", URL: c.ResourceListsURL()})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "<resource-lists/>", string(resp.Body))

	reqs := s.Requests()
	require.Len(t, reqs, 2)
	assert.Empty(t, reqs[0].Header.Get("Authorization"))
	assert.Equal(t, "/services/resource-lists/users/sip%3Aalice%40example.com/index", reqs[0].URI)
	assert.Equal(t, `"alice"`, reqs[0].Header.Get("X-3GPP-Intended-Identity"))
	assert.Empty(t, reqs[0].Body)
	assert.Equal(t, "xdms.example.com:8080", reqs[0].Host)
	assert.Equal(t, DefaultUserAgent, reqs[0].Header.Get("User-Agent"))

	assert.Equal(t, "JSESSIONID=abc123", reqs[1].Header.Get("Cookie"))
	assert.True(t, strings.HasPrefix(reqs[1].Header.Get("Authorization"), "Digest "))

	// The challenge is kept: the next request authenticates up front.
	_, err = c.SendRequest(context.Background(), &Request{Method: "GET", URL: c.ResourceListsURL()})
	require.NoError(t, err)
	assert.Len(t, s.Requests(), 3)
}

func TestClient_UnauthorizedTwice(t *testing.T) {
	defer test.CheckRoutines(t)()

	s := newFakeXDMS(t, func(int, *recordedRequest) reply {
		return reply{Status: 401, Header: map[string]string{
			"WWW-Authenticate": `Digest realm="example.com", nonce="n1"`,
		}}
	})
	defer s.close()
	c := s.client(t)

	resp, err := c.SendRequest(context.Background(), &Request{Method: "GET", URL: c.PresRulesURL()})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 401, se.StatusCode)
	assert.Equal(t, 401, resp.StatusCode)
	assert.Len(t, s.Requests(), 2)
}

func TestClient_PreconditionRetry(t *testing.T) {
	defer test.CheckRoutines(t)()

	s := newFakeXDMS(t, func(n int, r *recordedRequest) reply {
		if r.Header.Get("If-Match") != "" {
			return reply{Status: 412}
		}
		return reply{Status: 200, Header: map[string]string{"ETag": `"e2"`}}
	})
	defer s.close()
	c := s.client(t)
	c.ETags().Set(AUIDResourceLists, `"e1"`)

	err := c.Put(context.Background(), c.ResourceListsURL(), ContentTypeResourceLists, []byte("<resource-lists/>"))
	require.NoError(t, err)

	reqs := s.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, `"e1"`, reqs[0].Header.Get("If-Match"))
	assert.Empty(t, reqs[1].Header.Get("If-Match"))
	assert.Equal(t, ContentTypeResourceLists, reqs[1].Header.Get("Content-Type"))
	assert.Equal(t, "<resource-lists/>", string(reqs[1].Body))

	tag, found := c.ETags().Get(AUIDResourceLists)
	require.True(t, found)
	assert.Equal(t, "e2", tag)
}

func TestClient_PreconditionTwice(t *testing.T) {
	defer test.CheckRoutines(t)()

	s := newFakeXDMS(t, func(int, *recordedRequest) reply {
		return reply{Status: 412}
	})
	defer s.close()
	c := s.client(t)
	c.ETags().Set(AUIDPresRules, "e1")

	err := c.SetPresenceRules(context.Background())
	assert.ErrorIs(t, err, ErrPreconditionFailed)
	assert.Len(t, s.Requests(), 2)
	_, found := c.ETags().Get(AUIDPresRules)
	assert.False(t, found)
}

func TestClient_OtherStatus(t *testing.T) {
	defer test.CheckRoutines(t)()

	s := newFakeXDMS(t, func(int, *recordedRequest) reply {
		return reply{Status: 404}
	})
	defer s.close()
	c := s.client(t)

	_, err := c.GetRCSList(context.Background())
	assert.ErrorIs(t, err, ErrRequestFailed)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 404, se.StatusCode)
	assert.Len(t, s.Requests(), 1)
}

func TestClient_UntrackedETagIgnored(t *testing.T) {
	defer test.CheckRoutines(t)()

	s := newFakeXDMS(t, func(int, *recordedRequest) reply {
		return reply{Status: 200, Header: map[string]string{"ETag": "x"}}
	})
	defer s.close()
	c := s.client(t)

	_, err := c.GetResourceLists(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, c.ETags().Len())
}

func TestClient_Initialize(t *testing.T) {
	defer test.CheckRoutines(t)()

	const directory = `<?xml version="1.0" encoding="UTF-8"?>
<xcap-directory xmlns="urn:oma:xml:xdm:xcap-directory">
  <folder auid="resource-lists">
    <entry uri="http://xdms.example.com:8080/services/resource-lists/users/sip%3Aalice%40example.com/index" etag="rl-1"/>
  </folder>
  <folder auid="rls-services"/>
</xcap-directory>`

	s := newFakeXDMS(t, digestGate(func(n int, r *recordedRequest) reply {
		if r.Method == "GET" {
			return okReply(directory)
		}
		return reply{Status: 201, Header: map[string]string{"ETag": "new-" + r.Header.Get("Content-Type")}}
	}))
	defer s.close()
	c := s.client(t)

	require.NoError(t, c.Initialize(context.Background()))

	var puts []*recordedRequest
	for _, r := range s.Requests() {
		if r.Method == "PUT" {
			puts = append(puts, r)
		}
	}
	require.Len(t, puts, 2)
	assert.Equal(t, "/services/rls-services/users/sip%3Aalice%40example.com/index", puts[0].URI)
	assert.Equal(t, ContentTypeRLSServices, puts[0].Header.Get("Content-Type"))
	assert.Contains(t, string(puts[0].Body), `<service uri="sip:alice@example.com;pres-list=rcs">`)
	assert.Contains(t, string(puts[0].Body), "/resource-lists/list%5B@name=%22rcs%22%5D</resource-list>")

	assert.Equal(t, "/services/org.openmobilealliance.pres-rules/users/sip%3Aalice%40example.com/pres-rules", puts[1].URI)
	assert.Equal(t, ContentTypeAuthPolicy, puts[1].Header.Get("Content-Type"))
	assert.Contains(t, string(puts[1].Body), `id="wp_prs_allow_own"`)
	assert.Contains(t, string(puts[1].Body), `<cr:one id="sip:alice@example.com"/>`)

	tag, _ := c.ETags().Get(AUIDResourceLists)
	assert.Equal(t, "rl-1", tag)
	tag, _ = c.ETags().Get(AUIDRLSServices)
	assert.Equal(t, "new-"+ContentTypeRLSServices, tag)
	tag, _ = c.ETags().Get(AUIDPresRules)
	assert.Equal(t, "new-"+ContentTypeAuthPolicy, tag)
}

func TestClient_Contacts(t *testing.T) {
	defer test.CheckRoutines(t)()

	s := newFakeXDMS(t, func(n int, r *recordedRequest) reply {
		if r.Method == "GET" {
			return okReply(`<list name="rcs"><entry uri="tel:+33600000001"/><entry uri="sip:bob@example.com"/></list>`)
		}
		return okReply("")
	})
	defer s.close()
	c := s.client(t)
	ctx := context.Background()

	contacts, err := c.Contacts(ctx, ListGranted)
	require.NoError(t, err)
	assert.Equal(t, []string{"tel:+33600000001", "sip:bob@example.com"}, contacts)

	require.NoError(t, c.AddBlockedContact(ctx, "tel:+33600000001"))
	require.NoError(t, c.RemoveRevokedContact(ctx, "tel:+33600000001"))

	reqs := s.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, "/services/resource-lists/users/sip%3Aalice%40example.com/index/~~/resource-lists/list%5B@name=%22rcs%22%5D", reqs[0].URI)
	assert.Equal(t, "PUT", reqs[1].Method)
	assert.Equal(t, ContentTypeElement, reqs[1].Header.Get("Content-Type"))
	assert.Equal(t, "<entry uri='tel:+33600000001'></entry>", string(reqs[1].Body))
	assert.True(t, strings.HasSuffix(reqs[1].URI, "list%5B@name=%22rcs_blockedcontacts%22%5D/entry%5B@uri=%22tel%3A%2B33600000001%22%5D"))
	assert.Equal(t, "DELETE", reqs[2].Method)
	assert.Contains(t, reqs[2].URI, "rcs_revokedcontacts")
}

func TestNewClient_InvalidAddr(t *testing.T) {
	for _, addr := range []string{"ftp://x/y", "http:///root", "http://h:port/x", "://bad"} {
		_, err := NewClient(Config{ServerAddr: addr})
		assert.ErrorIs(t, err, ErrInvalidServerAddr, addr)
	}
}

func TestParseDirectory(t *testing.T) {
	dir, err := ParseDirectory([]byte(`<xcap-directory><folder auid="a"><entry uri="u" etag="&quot;t&quot;"/></folder><folder auid="b"/></xcap-directory>`))
	require.NoError(t, err)
	assert.True(t, dir.Has("a"))
	assert.False(t, dir.Has("b"))
	assert.False(t, dir.Has("c"))
	assert.Equal(t, "t", dir.Folders["a"].Entry.ETag)

	_, err = ParseDirectory([]byte("not xml"))
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestRequest_AUID(t *testing.T) {
	assert.Equal(t, "resource-lists", (&Request{URL: "/resource-lists/users/x/index"}).AUID())
	assert.Equal(t, "a", (&Request{URL: "a"}).AUID())
}
