package errors

import (
	"errors"
	"fmt"
)

// payloadCarrier is implemented by errors that hold a raw upstream response body.
type payloadCarrier interface {
	RawPayload() string
}

type ErrorDump struct {
	TopMessage string `json:"top_message"`
	Code       Code   `json:"code,omitempty"`
	Reason     string `json:"reason,omitempty"`

	Chain []string `json:"chain,omitempty"`

	UpstreamPayload string `json:"upstream_payload,omitempty"`
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}

	d := ErrorDump{
		TopMessage: err.Error(),
	}

	if te := As(err); te != nil {
		d.Code = te.Code()
		d.Reason = te.Reason()
	}

	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}

	var carrier payloadCarrier
	if errors.As(err, &carrier) {
		d.UpstreamPayload = carrier.RawPayload()
	}

	return d
}
