package negotiation

import (
	"fmt"

	"github.com/backkem/rcs/pkg/transport"
	"github.com/pion/logging"
)

// Config configures a Negotiator.
type Config struct {
	// LocalHost is the connection address written into local descriptions. Required.
	LocalHost string

	// OfferRole is the setup role of local offers. Endpoints that cannot
	// accept inbound connections keep SetupActive; others may choose
	// SetupPassive or SetupActPass.
	// Default: SetupActive
	OfferRole SetupRole

	// ActivePort is advertised when the local role is active.
	// Default: DefaultActivePort
	ActivePort int

	// MaxSize is advertised as a=max-size in answers, 0 to omit.
	MaxSize int64

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Negotiator builds local descriptions and parses remote ones for file transfer sessions.
type Negotiator struct {
	config Config
	log    logging.LeveledLogger
}

// NewNegotiator creates a negotiator, applying defaults.
func NewNegotiator(config Config) (*Negotiator, error) {
	if config.LocalHost == "" {
		return nil, fmt.Errorf("negotiation: local host required")
	}
	if !config.OfferRole.IsValid() {
		config.OfferRole = SetupActive
	}
	if config.OfferRole == SetupHoldConn {
		return nil, fmt.Errorf("%w: cannot offer %s", ErrInvalidSetup, config.OfferRole)
	}
	if config.ActivePort <= 0 {
		config.ActivePort = DefaultActivePort
	}
	n := &Negotiator{config: config}
	if config.LoggerFactory != nil {
		n.log = config.LoggerFactory.NewLogger("negotiation")
	}
	return n, nil
}

// OfferRole returns the setup role used in local offers.
func (n *Negotiator) OfferRole() SetupRole {
	return n.config.OfferRole
}

// ActivePort returns the placeholder port for the active role.
func (n *Negotiator) ActivePort() int {
	return n.config.ActivePort
}

// Endpoint describes the local media endpoint.
type Endpoint struct {
	Port        int
	Protocol    string
	Path        string
	Setup       SetupRole
	Fingerprint string
}

// FileInfo describes the offered file.
type FileInfo struct {
	TransferID string
	Name       string
	Type       string
	Size       int64
	// Location is an optional retrieval hint.
	Location string
}

// CreateOffer builds the originating payload. thumb may be nil.
func (n *Negotiator) CreateOffer(ep Endpoint, file FileInfo, thumb *Thumbnail) (Payload, error) {
	if file.TransferID == "" {
		return Payload{}, ErrMissingTransferID
	}
	d := &Description{
		Host:        n.config.LocalHost,
		Port:        ep.Port,
		Protocol:    ep.Protocol,
		AcceptTypes: []string{file.Type},
		TransferID:  file.TransferID,
		Selector:    FileSelector{Name: file.Name, Type: file.Type, Size: file.Size},
		Disposition: dispositionRender,
		Setup:       ep.Setup,
		Path:        ep.Path,
		Direction:   DirectionSendOnly,
		Location:    file.Location,
		Fingerprint: ep.Fingerprint,
	}
	if thumb != nil && len(thumb.Data) > 0 {
		d.IconCID = iconContentIDValue
	}

	body, err := d.Marshal()
	if err != nil {
		return Payload{}, err
	}
	if n.log != nil {
		n.log.Debugf("offer %s: setup=%s port=%d", file.TransferID, ep.Setup, ep.Port)
	}
	return BuildPayload(body, thumb)
}

// CreateAnswer builds the terminating payload for a parsed offer.
func (n *Negotiator) CreateAnswer(offer *Result, ep Endpoint) (Payload, error) {
	d := &Description{
		Host:        n.config.LocalHost,
		Port:        ep.Port,
		Protocol:    ep.Protocol,
		AcceptTypes: []string{offer.Selector.Type},
		TransferID:  offer.TransferID,
		Selector:    offer.Selector,
		Setup:       ep.Setup,
		Path:        ep.Path,
		Direction:   DirectionRecvOnly,
		MaxSize:     n.config.MaxSize,
		Fingerprint: ep.Fingerprint,
	}
	body, err := d.Marshal()
	if err != nil {
		return Payload{}, err
	}
	if n.log != nil {
		n.log.Debugf("answer %s: setup=%s port=%d", offer.TransferID, ep.Setup, ep.Port)
	}
	return Payload{Body: body, ContentType: ContentTypeSDP}, nil
}

// Result is the parsed remote side of a negotiation.
type Result struct {
	*Description

	// SDP is the raw session description.
	SDP string
	// Thumbnail is the decoded embedded preview, nil when absent.
	Thumbnail *Thumbnail
}

// RemoteAddress returns the address the active side must dial.
func (r *Result) RemoteAddress() transport.PeerAddress {
	return transport.PeerAddress{
		Host:          r.Host,
		Port:          r.Port,
		TransportType: transport.TransportTypeFromProtocol(r.Protocol),
	}
}

// Encoding returns the MIME type of the offered content.
func (r *Result) Encoding() string {
	if r.Selector.Type != "" {
		return r.Selector.Type
	}
	if len(r.AcceptTypes) > 0 {
		return r.AcceptTypes[0]
	}
	return ""
}

// ParseOffer parses an inbound offer. The transfer id, file selector and
// path are mandatory.
func ParseOffer(body []byte, contentType string) (*Result, error) {
	r, err := parse(body, contentType)
	if err != nil {
		return nil, err
	}
	if r.TransferID == "" {
		return nil, ErrMissingTransferID
	}
	if r.Selector.Type == "" {
		return nil, fmt.Errorf("%w: absent", ErrInvalidSelector)
	}
	return r, nil
}

// ParseAnswer parses the answer to a local offer.
func ParseAnswer(body []byte, contentType string) (*Result, error) {
	return parse(body, contentType)
}

func parse(body []byte, contentType string) (*Result, error) {
	sdpBody, thumb, err := SplitPayload(body, contentType)
	if err != nil {
		return nil, err
	}
	d, err := UnmarshalDescription(sdpBody)
	if err != nil {
		return nil, err
	}
	if d.Path == "" {
		return nil, ErrMissingPath
	}
	if d.Port <= 0 || d.Port > 65535 {
		return nil, fmt.Errorf("%w: port %d", ErrMalformed, d.Port)
	}
	return &Result{Description: d, SDP: string(sdpBody), Thumbnail: thumb}, nil
}
