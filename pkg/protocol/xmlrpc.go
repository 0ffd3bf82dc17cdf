package protocol

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// The envelope is plain XML-RPC. Only the value kinds the commit method
// needs are implemented: string, int (and the i4 alias), array, struct
// (for faults) and the nil extension for absent branch/module.

type xMethodCall struct {
	XMLName    xml.Name `xml:"methodCall"`
	MethodName string   `xml:"methodName"`
	Params     []xParam `xml:"params>param"`
}

type xMethodResponse struct {
	XMLName xml.Name `xml:"methodResponse"`
	Params  []xParam `xml:"params>param"`
	Fault   *xFault  `xml:"fault"`
}

type xParam struct {
	Value xValue `xml:"value"`
}

type xFault struct {
	Value xValue `xml:"value"`
}

type xValue struct {
	Int    *int     `xml:"int,omitempty"`
	I4     *int     `xml:"i4,omitempty"`
	Str    *string  `xml:"string,omitempty"`
	Array  *xArray  `xml:"array,omitempty"`
	Struct *xStruct `xml:"struct,omitempty"`
	Nil    *xNil    `xml:"nil,omitempty"`
	Text   string   `xml:",chardata"`
}

type xArray struct {
	Data xData `xml:"data"`
}

type xData struct {
	Values []xValue `xml:"value"`
}

type xStruct struct {
	Members []xMember `xml:"member"`
}

type xMember struct {
	Name  string `xml:"name"`
	Value xValue `xml:"value"`
}

type xNil struct{}

// MarshalCall encodes a method call envelope with positional arguments.
func MarshalCall(method string, args []any) ([]byte, error) {
	call := xMethodCall{MethodName: method}
	for _, a := range args {
		v, err := fromAny(a)
		if err != nil {
			return nil, err
		}
		call.Params = append(call.Params, xParam{Value: v})
	}
	return marshalEnvelope(call)
}

// UnmarshalCall decodes a method call envelope into the method name and
// its positional argument list.
func UnmarshalCall(data []byte) (string, []any, error) {
	var call xMethodCall
	if err := xml.Unmarshal(data, &call); err != nil {
		return "", nil, fmt.Errorf("malformed request envelope: %w", err)
	}
	if call.MethodName == "" {
		return "", nil, fmt.Errorf("request envelope has no method name")
	}
	args := make([]any, 0, len(call.Params))
	for _, p := range call.Params {
		args = append(args, toAny(p.Value))
	}
	return call.MethodName, args, nil
}

// MarshalResponse encodes a successful single-result response.
func MarshalResponse(result any) ([]byte, error) {
	v, err := fromAny(result)
	if err != nil {
		return nil, err
	}
	return marshalEnvelope(xMethodResponse{Params: []xParam{{Value: v}}})
}

// MarshalFault encodes a fault response. The faultCode member carries
// the KGB string code, not the integer of baseline XML-RPC; both ends
// of this protocol agree on that.
func MarshalFault(f *Fault) ([]byte, error) {
	code := f.Code
	reason := f.Reason
	return marshalEnvelope(xMethodResponse{Fault: &xFault{Value: xValue{
		Struct: &xStruct{Members: []xMember{
			{Name: "faultCode", Value: xValue{Str: &code}},
			{Name: "faultString", Value: xValue{Str: &reason}},
		}},
	}}})
}

// UnmarshalResponse decodes a response envelope. A fault envelope is
// returned as a *Fault error; otherwise the single result value is
// returned.
func UnmarshalResponse(data []byte) (any, error) {
	var resp xMethodResponse
	if err := xml.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("malformed response envelope: %w", err)
	}
	if resp.Fault != nil {
		return nil, faultFromValue(resp.Fault.Value)
	}
	if len(resp.Params) != 1 {
		return nil, fmt.Errorf("response envelope has %d results, want 1", len(resp.Params))
	}
	return toAny(resp.Params[0].Value), nil
}

func faultFromValue(v xValue) *Fault {
	f := &Fault{Code: "Server", Reason: "unspecified fault"}
	if v.Struct == nil {
		return f
	}
	for _, m := range v.Struct.Members {
		switch m.Name {
		case "faultCode":
			f.Code = fmt.Sprint(toAny(m.Value))
		case "faultString":
			f.Reason = fmt.Sprint(toAny(m.Value))
		}
	}
	return f
}

func marshalEnvelope(v any) ([]byte, error) {
	body, err := xml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

func fromAny(a any) (xValue, error) {
	switch v := a.(type) {
	case nil:
		return xValue{Nil: &xNil{}}, nil
	case string:
		s := v
		return xValue{Str: &s}, nil
	case int:
		n := v
		return xValue{Int: &n}, nil
	case []any:
		arr := &xArray{}
		for _, e := range v {
			ev, err := fromAny(e)
			if err != nil {
				return xValue{}, err
			}
			arr.Data.Values = append(arr.Data.Values, ev)
		}
		return xValue{Array: arr}, nil
	case []string:
		list := make([]any, len(v))
		for i, s := range v {
			list[i] = s
		}
		return fromAny(list)
	default:
		return xValue{}, fmt.Errorf("unsupported value type %T", a)
	}
}

func toAny(v xValue) any {
	switch {
	case v.Nil != nil:
		return nil
	case v.Int != nil:
		return *v.Int
	case v.I4 != nil:
		return *v.I4
	case v.Str != nil:
		return *v.Str
	case v.Array != nil:
		out := make([]any, 0, len(v.Array.Data.Values))
		for _, e := range v.Array.Data.Values {
			out = append(out, toAny(e))
		}
		return out
	case v.Struct != nil:
		out := make(map[string]any, len(v.Struct.Members))
		for _, m := range v.Struct.Members {
			out[m.Name] = toAny(m.Value)
		}
		return out
	default:
		// Untagged value content is a string per XML-RPC.
		return strings.TrimSpace(v.Text)
	}
}
