package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tsawler/docworker/rpc"
)

// Command is an action a session answers.
type Command int

const (
	CmdReady Command = iota
	CmdGetPage
	CmdGetPageIndex
	CmdGetDestinations
	CmdGetDestination
	CmdGetPageLabels
	CmdGetPageLayout
	CmdGetPageMode
	CmdGetViewerPreferences
	CmdGetOpenAction
	CmdGetAttachments
	CmdGetDocJSActions
	CmdGetPageJSActions
	CmdGetOutline
	CmdGetOptionalContentConfig
	CmdGetPermissions
	CmdGetMetadata
	CmdGetMarkInfo
	CmdGetData
	CmdGetAnnotations
	CmdGetFieldObjects
	CmdHasJSActions
	CmdGetCalculationOrderIDs
	CmdGetStructTree
	CmdSaveDocument
	CmdGetOperatorList
	CmdGetTextContent
	CmdCleanup
	CmdTerminate
	CmdGetXFADatasets
	CmdGetXRefPrevValue
	CmdGetStartXRefPos
	CmdGetAnnotArray

	numCommands
)

var commandNames = [numCommands]string{
	CmdReady:                    "Ready",
	CmdGetPage:                  "GetPage",
	CmdGetPageIndex:             "GetPageIndex",
	CmdGetDestinations:          "GetDestinations",
	CmdGetDestination:           "GetDestination",
	CmdGetPageLabels:            "GetPageLabels",
	CmdGetPageLayout:            "GetPageLayout",
	CmdGetPageMode:              "GetPageMode",
	CmdGetViewerPreferences:     "GetViewerPreferences",
	CmdGetOpenAction:            "GetOpenAction",
	CmdGetAttachments:           "GetAttachments",
	CmdGetDocJSActions:          "GetDocJSActions",
	CmdGetPageJSActions:         "GetPageJSActions",
	CmdGetOutline:               "GetOutline",
	CmdGetOptionalContentConfig: "GetOptionalContentConfig",
	CmdGetPermissions:           "GetPermissions",
	CmdGetMetadata:              "GetMetadata",
	CmdGetMarkInfo:              "GetMarkInfo",
	CmdGetData:                  "GetData",
	CmdGetAnnotations:           "GetAnnotations",
	CmdGetFieldObjects:          "GetFieldObjects",
	CmdHasJSActions:             "HasJSActions",
	CmdGetCalculationOrderIDs:   "GetCalculationOrderIds",
	CmdGetStructTree:            "GetStructTree",
	CmdSaveDocument:             "SaveDocument",
	CmdGetOperatorList:          "GetOperatorList",
	CmdGetTextContent:           "GetTextContent",
	CmdCleanup:                  "Cleanup",
	CmdTerminate:                "Terminate",
	CmdGetXFADatasets:           "GetXFADatasets",
	CmdGetXRefPrevValue:         "GetXRefPrevValue",
	CmdGetStartXRefPos:          "GetStartXRefPos",
	CmdGetAnnotArray:            "GetAnnotArray",
}

func (c Command) String() string {
	if c >= 0 && c < numCommands {
		return commandNames[c]
	}
	return fmt.Sprintf("Command(%d)", int(c))
}

var allCommands = func() []Command {
	cmds := make([]Command, numCommands)
	for i := range cmds {
		cmds[i] = Command(i)
	}
	return cmds
}()

// commandHandler is what the session registers for a command. Exactly one
// of request and stream is set.
type commandHandler struct {
	request rpc.RequestFunc
	stream  rpc.StreamFunc
	// final destroys the handler after the response.
	final bool
}

func (s *Session) handlerFor(c Command) commandHandler {
	switch c {
	case CmdReady:
		return commandHandler{request: s.onReady}
	case CmdGetPage:
		return commandHandler{request: decoded(s.getPage)}
	case CmdGetPageIndex:
		return commandHandler{request: decoded(s.getPageIndex)}
	case CmdGetDestinations:
		return commandHandler{request: decoded(s.getDestinations)}
	case CmdGetDestination:
		return commandHandler{request: decoded(s.getDestination)}
	case CmdGetPageLabels:
		return commandHandler{request: decoded(s.getPageLabels)}
	case CmdGetPageLayout:
		return commandHandler{request: decoded(s.getPageLayout)}
	case CmdGetPageMode:
		return commandHandler{request: decoded(s.getPageMode)}
	case CmdGetViewerPreferences:
		return commandHandler{request: decoded(s.getViewerPreferences)}
	case CmdGetOpenAction:
		return commandHandler{request: decoded(s.getOpenAction)}
	case CmdGetAttachments:
		return commandHandler{request: decoded(s.getAttachments)}
	case CmdGetDocJSActions:
		return commandHandler{request: decoded(s.getDocJSActions)}
	case CmdGetPageJSActions:
		return commandHandler{request: decoded(s.getPageJSActions)}
	case CmdGetOutline:
		return commandHandler{request: decoded(s.getOutline)}
	case CmdGetOptionalContentConfig:
		return commandHandler{request: decoded(s.getOptionalContentConfig)}
	case CmdGetPermissions:
		return commandHandler{request: decoded(s.getPermissions)}
	case CmdGetMetadata:
		return commandHandler{request: decoded(s.getMetadata)}
	case CmdGetMarkInfo:
		return commandHandler{request: decoded(s.getMarkInfo)}
	case CmdGetData:
		return commandHandler{request: decoded(s.getData)}
	case CmdGetAnnotations:
		return commandHandler{request: decoded(s.getAnnotations)}
	case CmdGetFieldObjects:
		return commandHandler{request: decoded(s.getFieldObjects)}
	case CmdHasJSActions:
		return commandHandler{request: decoded(s.hasJSActions)}
	case CmdGetCalculationOrderIDs:
		return commandHandler{request: decoded(s.getCalculationOrderIDs)}
	case CmdGetStructTree:
		return commandHandler{request: decoded(s.getStructTree)}
	case CmdSaveDocument:
		return commandHandler{request: decoded(s.saveDocument)}
	case CmdGetOperatorList:
		return commandHandler{stream: s.getOperatorList}
	case CmdGetTextContent:
		return commandHandler{stream: s.getTextContent}
	case CmdCleanup:
		return commandHandler{request: decoded(s.cleanup)}
	case CmdTerminate:
		return commandHandler{request: decoded(s.onTerminate), final: true}
	case CmdGetXFADatasets:
		return commandHandler{request: decoded(s.getXFADatasets)}
	case CmdGetXRefPrevValue:
		return commandHandler{request: decoded(s.getXRefPrevValue)}
	case CmdGetStartXRefPos:
		return commandHandler{request: decoded(s.getStartXRefPos)}
	case CmdGetAnnotArray:
		return commandHandler{request: decoded(s.getAnnotArray)}
	}
	panic(fmt.Sprintf("worker: no handler for %v", c))
}

// decoded adapts a typed handler to rpc.RequestFunc. An absent payload
// leaves the request zero; errors are converted to host exceptions.
func decoded[Req, Resp any](fn func(context.Context, Req) (Resp, error)) rpc.RequestFunc {
	return func(ctx context.Context, data json.RawMessage) (any, error) {
		var req Req
		if len(data) > 0 && string(data) != "null" {
			if err := json.Unmarshal(data, &req); err != nil {
				return nil, fmt.Errorf("failed to decode request: %w", err)
			}
		}
		resp, err := fn(ctx, req)
		if err != nil {
			return nil, toWire(err)
		}
		return resp, nil
	}
}

// decode parses the payload of a streamed request.
func decode[Req any](data json.RawMessage) (Req, error) {
	var req Req
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &req); err != nil {
			return req, fmt.Errorf("failed to decode request: %w", err)
		}
	}
	return req, nil
}
