package negotiation

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/backkem/rcs/pkg/transport"
	"github.com/pion/sdp/v3"
)

// Attribute names of a file transfer media description.
const (
	attrAcceptTypes    = "accept-types"
	attrTransferID     = "file-transfer-id"
	attrDisposition    = "file-disposition"
	attrSelector       = "file-selector"
	attrLocation       = "file-location"
	attrIcon           = "file-icon"
	attrSetup          = "setup"
	attrPath           = "path"
	attrFingerprint    = "fingerprint"
	attrMaxSize        = "max-size"
	mediaMessage       = "message"
	dispositionRender  = "render"
	iconContentIDValue = "image@joyn.com"
)

// Direction is the media direction attribute.
type Direction string

// Media directions.
const (
	DirectionSendOnly Direction = "sendonly"
	DirectionRecvOnly Direction = "recvonly"
	DirectionSendRecv Direction = "sendrecv"
)

// Description is the content of one file transfer session description.
type Description struct {
	// Host is the connection address.
	Host string
	// Port is the media port.
	Port int
	// Protocol is transport.ProtocolTCP or transport.ProtocolTLS.
	Protocol string

	AcceptTypes []string
	TransferID  string
	Selector    FileSelector
	// Disposition is "render" in offers and empty in answers.
	Disposition string
	Setup       SetupRole
	Path        string
	Direction   Direction
	// MaxSize is the largest accepted payload, 0 when unlimited.
	MaxSize int64
	// Location is an optional retrieval hint (a=file-location).
	Location string
	// Fingerprint is the certificate fingerprint for TLS media.
	Fingerprint string
	// IconCID references an embedded thumbnail, without the "cid:" prefix.
	IconCID string
}

// Secured reports whether the media runs over TLS.
func (d *Description) Secured() bool {
	return transport.TransportTypeFromProtocol(d.Protocol) == transport.TransportTypeTLS
}

// ntpTime returns seconds since the NTP epoch for the o= line.
func ntpTime() uint64 {
	return uint64(time.Now().Unix()) + 2208988800
}

func addressType(host string) string {
	if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
		return "IP6"
	}
	return "IP4"
}

// Marshal encodes the description as SDP.
func (d *Description) Marshal() ([]byte, error) {
	ntp := ntpTime()
	at := addressType(d.Host)
	proto := d.Protocol
	if proto == "" {
		proto = transport.ProtocolTCP
	}

	media := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   mediaMessage,
			Port:    sdp.RangedPort{Value: d.Port},
			Protos:  strings.Split(proto, "/"),
			Formats: []string{"*"},
		},
	}
	add := func(key, value string) {
		if value != "" {
			media.Attributes = append(media.Attributes, sdp.NewAttribute(key, value))
		}
	}

	add(attrAcceptTypes, strings.Join(d.AcceptTypes, " "))
	add(attrTransferID, d.TransferID)
	add(attrDisposition, d.Disposition)
	if d.IconCID != "" {
		add(attrIcon, "cid:"+d.IconCID)
	}
	if d.Selector.Type != "" {
		add(attrSelector, d.Selector.String())
	}
	add(attrLocation, d.Location)
	add(attrSetup, d.Setup.String())
	add(attrPath, d.Path)
	add(attrFingerprint, d.Fingerprint)
	if d.Direction != "" {
		media.Attributes = append(media.Attributes, sdp.NewPropertyAttribute(string(d.Direction)))
	}
	if d.MaxSize > 0 {
		add(attrMaxSize, strconv.FormatInt(d.MaxSize, 10))
	}

	sd := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      ntp,
			SessionVersion: ntp,
			NetworkType:    "IN",
			AddressType:    at,
			UnicastAddress: d.Host,
		},
		SessionName: "-",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: at,
			Address:     &sdp.Address{Address: d.Host},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
		MediaDescriptions: []*sdp.MediaDescription{media},
	}
	return sd.Marshal()
}

// UnmarshalDescription decodes an SDP body into a Description.
// Missing mandatory parts are reported as distinct errors.
func UnmarshalDescription(raw []byte) (*Description, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, ErrEmptyPayload
	}

	var sd sdp.SessionDescription
	if err := sd.Unmarshal(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var media *sdp.MediaDescription
	for _, m := range sd.MediaDescriptions {
		if m.MediaName.Media == mediaMessage {
			media = m
			break
		}
	}
	if media == nil {
		return nil, ErrMissingMedia
	}

	d := &Description{
		Port:     media.MediaName.Port.Value,
		Protocol: strings.Join(media.MediaName.Protos, "/"),
	}
	if transport.TransportTypeFromProtocol(d.Protocol) == transport.TransportTypeUnknown {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, d.Protocol)
	}

	// Media-level connection overrides the session-level one.
	switch {
	case media.ConnectionInformation != nil && media.ConnectionInformation.Address != nil:
		d.Host = media.ConnectionInformation.Address.Address
	case sd.ConnectionInformation != nil && sd.ConnectionInformation.Address != nil:
		d.Host = sd.ConnectionInformation.Address.Address
	default:
		return nil, ErrMissingConnection
	}

	for _, a := range media.Attributes {
		switch a.Key {
		case attrAcceptTypes:
			d.AcceptTypes = strings.Fields(a.Value)
		case attrTransferID:
			d.TransferID = strings.TrimSpace(a.Value)
		case attrDisposition:
			d.Disposition = a.Value
		case attrSelector:
			sel, err := ParseFileSelector(a.Value)
			if err != nil {
				return nil, err
			}
			d.Selector = sel
		case attrLocation:
			d.Location = a.Value
		case attrIcon:
			d.IconCID = strings.TrimPrefix(a.Value, "cid:")
		case attrSetup:
			role, err := ParseSetupRole(a.Value)
			if err != nil {
				return nil, err
			}
			d.Setup = role
		case attrPath:
			d.Path = strings.TrimSpace(a.Value)
		case attrFingerprint:
			d.Fingerprint = a.Value
		case attrMaxSize:
			if n, err := strconv.ParseInt(a.Value, 10, 64); err == nil && n > 0 {
				d.MaxSize = n
			}
		case string(DirectionSendOnly), string(DirectionRecvOnly), string(DirectionSendRecv):
			d.Direction = Direction(a.Key)
		}
	}
	return d, nil
}
