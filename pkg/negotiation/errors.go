package negotiation

import "errors"

// Parse and negotiation errors. Every parse failure is fatal for the session;
// there is no partial result.
var (
	// ErrEmptyPayload is returned for a missing or blank session description.
	ErrEmptyPayload = errors.New("negotiation: empty payload")

	// ErrMalformed is returned when the session description cannot be decoded.
	ErrMalformed = errors.New("negotiation: malformed session description")

	// ErrMissingMedia is returned when no message media line is present.
	ErrMissingMedia = errors.New("negotiation: no message media")

	// ErrMissingConnection is returned when no connection address is present.
	ErrMissingConnection = errors.New("negotiation: no connection address")

	// ErrMissingPath is returned when the media has no a=path attribute.
	ErrMissingPath = errors.New("negotiation: missing path")

	// ErrInvalidSelector is returned for an absent or malformed file selector.
	ErrInvalidSelector = errors.New("negotiation: invalid file selector")

	// ErrMissingTransferID is returned when a=file-transfer-id is absent.
	ErrMissingTransferID = errors.New("negotiation: missing transfer id")

	// ErrUnsupportedProtocol is returned for media protocols other than MSRP over TCP or TLS.
	ErrUnsupportedProtocol = errors.New("negotiation: unsupported media protocol")

	// ErrInvalidSetup is returned for unknown a=setup values.
	ErrInvalidSetup = errors.New("negotiation: invalid setup role")

	// ErrRoleConflict is returned when offer and answer roles do not pair up.
	ErrRoleConflict = errors.New("negotiation: setup role conflict")

	// ErrInvalidThumbnail is returned when the embedded thumbnail cannot be decoded.
	ErrInvalidThumbnail = errors.New("negotiation: invalid thumbnail part")
)
