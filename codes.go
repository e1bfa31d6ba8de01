package ngstore

import "fmt"

// Code is a status reported through Progress and returned by long running
// operations.
type Code int

const (
	CodeContinue Code = iota + 100
	CodePending
	CodeInProcess
)

const (
	CodeSuccess Code = iota + 200
	CodeCanceled
	CodeFinished
)

const CodeWarning Code = 300

const (
	CodeUnexpectedError Code = iota + 400
	CodeNotSpecified
	CodeInvalid
	CodeUnsupported
	CodeCreateFailed
	CodeDeleteFailed
	CodeSaveFailed
	CodeSetFailed
	CodeGetFailed
	CodeOpenFailed
	CodeInsertFailed
	CodeUpdateFailed
)

var codeNames = map[Code]string{
	CodeContinue:        "continue",
	CodePending:         "pending",
	CodeInProcess:       "in process",
	CodeSuccess:         "success",
	CodeCanceled:        "canceled",
	CodeFinished:        "finished",
	CodeWarning:         "warning",
	CodeUnexpectedError: "unexpected error",
	CodeNotSpecified:    "not specified",
	CodeInvalid:         "invalid",
	CodeUnsupported:     "unsupported",
	CodeCreateFailed:    "create failed",
	CodeDeleteFailed:    "delete failed",
	CodeSaveFailed:      "save failed",
	CodeSetFailed:       "set failed",
	CodeGetFailed:       "get failed",
	CodeOpenFailed:      "open failed",
	CodeInsertFailed:    "insert failed",
	CodeUpdateFailed:    "update failed",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// ChangeCode identifies an edit operation. Values are bit flags so that a
// listener can subscribe to a set of them.
type ChangeCode int64

const (
	OpNop                  ChangeCode = 1 << 0
	OpCreateFeature        ChangeCode = 1 << 4
	OpChangeFeature        ChangeCode = 1 << 5
	OpDeleteFeature        ChangeCode = 1 << 6
	OpDeleteAllFeatures    ChangeCode = 1 << 7
	OpCreateAttachment     ChangeCode = 1 << 8
	OpChangeAttachment     ChangeCode = 1 << 9
	OpDeleteAttachment     ChangeCode = 1 << 10
	OpDeleteAllAttachments ChangeCode = 1 << 11
)

func (c ChangeCode) String() string {
	switch c {
	case OpNop:
		return "NOP"
	case OpCreateFeature:
		return "CREATE_FEATURE"
	case OpChangeFeature:
		return "CHANGE_FEATURE"
	case OpDeleteFeature:
		return "DELETE_FEATURE"
	case OpDeleteAllFeatures:
		return "DELETEALL_FEATURES"
	case OpCreateAttachment:
		return "CREATE_ATTACHMENT"
	case OpChangeAttachment:
		return "CHANGE_ATTACHMENT"
	case OpDeleteAttachment:
		return "DELETE_ATTACHMENT"
	case OpDeleteAllAttachments:
		return "DELETEALL_ATTACHMENTS"
	}
	return fmt.Sprintf("change(%d)", int64(c))
}

func (c ChangeCode) isAttachment() bool {
	return c == OpCreateAttachment || c == OpChangeAttachment ||
		c == OpDeleteAttachment || c == OpDeleteAllAttachments
}

// NotFound marks a missing feature, attachment or remote id.
const NotFound int64 = -1
