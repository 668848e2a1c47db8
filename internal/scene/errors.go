package scene

import "github.com/goxel/goxeld/internal/rpc"

// Domain error codes passed through verbatim by the worker pool, within
// the -32010..-32099 range reserved for scene/render-store errors.
const (
	CodeInvalidCoordinates = -32010
	CodeUnknownLayer       = -32011
	CodeLayerNameConflict  = -32012
	CodeExportFailed       = -32013
	CodeImportFailed       = -32014
	CodeNoActiveProject    = -32015
	CodeCacheFull          = -32016
	CodeArtifactExpired    = -32017
	CodeUnknownArtifact    = -32018
)

// Error is a scene-domain error carrying a stable JSON-RPC code.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string { return e.Message }

// ToRPC converts a scene Error into the wire ErrorObject shape.
func (e *Error) ToRPC() *rpc.ErrorObject {
	return rpc.DomainError(e.Code, e.Message)
}

func newErr(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

func ErrInvalidCoordinates(message string) *Error { return newErr(CodeInvalidCoordinates, message) }
func ErrUnknownLayer(message string) *Error       { return newErr(CodeUnknownLayer, message) }
func ErrLayerNameConflict(message string) *Error  { return newErr(CodeLayerNameConflict, message) }
func ErrExportFailed(message string) *Error       { return newErr(CodeExportFailed, message) }
func ErrImportFailed(message string) *Error       { return newErr(CodeImportFailed, message) }
func ErrNoActiveProject(message string) *Error    { return newErr(CodeNoActiveProject, message) }
func ErrCacheFull(message string) *Error          { return newErr(CodeCacheFull, message) }
func ErrArtifactExpired(message string) *Error    { return newErr(CodeArtifactExpired, message) }
func ErrUnknownArtifact(message string) *Error    { return newErr(CodeUnknownArtifact, message) }
