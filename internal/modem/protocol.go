package modem

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
)

// sessionInfo is the cookie/token pair returned by the control endpoint.
type sessionInfo struct {
	XMLName xml.Name `xml:"response"`
	Session string   `xml:"SesInfo"`
	Token   string   `xml:"TokInfo"`
}

// smsRequest is the fixed submission envelope the modem expects.
type smsRequest struct {
	XMLName  xml.Name  `xml:"request"`
	Index    int       `xml:"Index"`
	Phones   phoneList `xml:"Phones"`
	Sca      string    `xml:"Sca"`
	Content  string    `xml:"Content"`
	Length   int       `xml:"Length"`
	Reserved int       `xml:"Reserved"`
	Date     string    `xml:"Date"`
}

type phoneList struct {
	Phone []string `xml:"Phone"`
}

// okResponse is the modem's success acknowledgement: <response>OK</response>.
type okResponse struct {
	XMLName xml.Name `xml:"response"`
	Value   string   `xml:",chardata"`
}

// errorResponse is the modem's failure envelope.
type errorResponse struct {
	XMLName xml.Name `xml:"error"`
	Code    string   `xml:"code"`
	Message string   `xml:"message"`
}

// Error is a modem-reported failure, distinguished from transport errors
// so the right retry schedule applies.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("modem error %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("modem error %s", e.Code)
}

// SessionExpired reports whether the error means the token went stale.
func (e *Error) SessionExpired() bool {
	return sessionExpiredCodes[e.Code]
}

func asModemError(err error, target **Error) bool {
	var me *Error
	if errors.As(err, &me) {
		*target = me
		return true
	}
	return false
}

// parseSendResponse interprets the modem's reply to a submission. Anything
// other than an OK acknowledgement is a failure.
func parseSendResponse(body []byte) error {
	trimmed := strings.TrimSpace(string(body))

	if strings.Contains(trimmed, "<error>") {
		var e errorResponse
		if err := xml.Unmarshal(body, &e); err != nil {
			return fmt.Errorf("unparseable modem error: %q", trimmed)
		}
		return &Error{Code: e.Code, Message: e.Message}
	}

	var ok okResponse
	if err := xml.Unmarshal(body, &ok); err != nil {
		return fmt.Errorf("unparseable modem response: %q", trimmed)
	}
	if strings.TrimSpace(ok.Value) != "OK" {
		return &Error{Code: "unknown", Message: strings.TrimSpace(ok.Value)}
	}
	return nil
}
