package main

import (
	"context"
	"strings"

	"google.golang.org/protobuf/types/known/wrapperspb"

	"maid/message"
)

// Echo is the demo service served by `maid serve`.
type Echo struct{}

// Say returns the request unchanged.
func (e *Echo) Say(ctx context.Context, req *wrapperspb.StringValue, resp *wrapperspb.StringValue) error {
	resp.Value = req.GetValue()
	return nil
}

// Upper returns the request in upper case.
func (e *Echo) Upper(req *wrapperspb.StringValue, resp *wrapperspb.StringValue) error {
	resp.Value = strings.ToUpper(req.GetValue())
	return nil
}

// Whoami returns the id of the session the request arrived on.
func (e *Echo) Whoami(ctl *message.Controller, req *wrapperspb.StringValue, resp *wrapperspb.StringValue) error {
	if ctl.Session != nil {
		resp.Value = ctl.Session.ID()
	}
	return nil
}
