package a2a

import (
	"encoding/json"
	"net/http"

	xerrors "BNBChain-AgentKit/internal/errors"
	"BNBChain-AgentKit/internal/task"
)

const jsonRPCVersion = "2.0"

// Method names.
const (
	MethodSend                = "tasks/send"
	MethodGet                 = "tasks/get"
	MethodCancel              = "tasks/cancel"
	MethodSetPushNotification = "tasks/pushNotification/set"
	MethodGetPushNotification = "tasks/pushNotification/get"
	MethodSendSubscribe       = "tasks/sendSubscribe"
	MethodResubscribe         = "tasks/resubscribe"
)

// JSON-RPC error codes, standard and A2A specific.
const (
	ErrParseError                   = -32700
	ErrInvalidRequest               = -32600
	ErrMethodNotFound               = -32601
	ErrInvalidParams                = -32602
	ErrInternal                     = -32603
	ErrTaskNotFound                 = -32001
	ErrTaskNotCancelable            = -32002
	ErrPushNotificationNotSupported = -32003
	ErrUnsupportedOperation         = -32004
	ErrContentTypeNotSupported      = -32005
)

// Codes raised by the server and mapped onto JSON-RPC errors.
const (
	CodeTaskNotCancelable xerrors.Code = "A2A_TASK_NOT_CANCELABLE"
	CodePushNotSupported  xerrors.Code = "A2A_PUSH_NOT_SUPPORTED"
	CodeUnsupported       xerrors.Code = "A2A_UNSUPPORTED_OPERATION"
	CodeContentType       xerrors.Code = "A2A_CONTENT_TYPE_NOT_SUPPORTED"
)

func init() {
	xerrors.Register(CodeTaskNotCancelable, xerrors.Attributes{Message: "task cannot be canceled", Severity: xerrors.SeverityInfo, HTTPStatus: http.StatusConflict})
	xerrors.Register(CodePushNotSupported, xerrors.Attributes{Message: "push notification is not supported", Severity: xerrors.SeverityInfo, HTTPStatus: http.StatusBadRequest})
	xerrors.Register(CodeUnsupported, xerrors.Attributes{Message: "this operation is not supported", Severity: xerrors.SeverityInfo, HTTPStatus: http.StatusBadRequest})
	xerrors.Register(CodeContentType, xerrors.Attributes{Message: "incompatible content types", Severity: xerrors.SeverityInfo, HTTPStatus: http.StatusUnsupportedMediaType})
}

var errMissingParams = xerrors.New(xerrors.CodeInvalidArgument, "params are required")

// Request is a JSON-RPC 2.0 request. ID may be a string, number or null.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response; exactly one of Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return e.Message }

func result(id json.RawMessage, v any) Response {
	return Response{JSONRPC: jsonRPCVersion, ID: normalizeID(id), Result: v}
}

func failure(id json.RawMessage, rpcErr *RPCError) Response {
	return Response{JSONRPC: jsonRPCVersion, ID: normalizeID(id), Error: rpcErr}
}

func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}

// toRPCError maps an internal error onto a JSON-RPC error object.
func toRPCError(err error) *RPCError {
	var rpcErr *RPCError
	if xerrors.As(err, &rpcErr) {
		return rpcErr
	}
	code := ErrInternal
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument, task.CodeTaskValidation:
		code = ErrInvalidParams
	case xerrors.CodeNotFound, task.CodeTaskNotFound:
		code = ErrTaskNotFound
	case CodeTaskNotCancelable:
		code = ErrTaskNotCancelable
	case CodePushNotSupported:
		code = ErrPushNotificationNotSupported
	case CodeUnsupported, task.CodeTaskConflict:
		code = ErrUnsupportedOperation
	case CodeContentType:
		code = ErrContentTypeNotSupported
	}
	return &RPCError{Code: code, Message: xerrors.MessageOf(err)}
}
