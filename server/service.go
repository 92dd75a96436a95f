package server

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"maid/message"
)

// Service is the service object a dispatcher routes requests to: it resolves
// a method by name. Any serialization system that can produce empty request
// and response instances and invoke user logic can implement it.
type Service interface {
	Name() string
	Method(name string) (Method, bool)
}

// Method is one callable method of a Service.
type Method interface {
	Name() string
	NewRequest() any
	NewResponse() any
	Call(ctx context.Context, ctl *message.Controller, req, resp any) error
}

var (
	errorType      = reflect.TypeOf((*error)(nil)).Elem()
	contextType    = reflect.TypeOf((*context.Context)(nil)).Elem()
	controllerType = reflect.TypeOf((*message.Controller)(nil))
)

type methodType struct {
	method    reflect.Method
	rcvr      reflect.Value
	ArgType   reflect.Type
	ReplyType reflect.Type
	lead      reflect.Type // contextType, controllerType or nil
}

func (m *methodType) Name() string     { return m.method.Name }
func (m *methodType) NewRequest() any  { return reflect.New(m.ArgType).Interface() }
func (m *methodType) NewResponse() any { return reflect.New(m.ReplyType).Interface() }

// Call 通过反射调用方法
func (m *methodType) Call(ctx context.Context, ctl *message.Controller, req, resp any) error {
	args := make([]reflect.Value, 0, 4)
	args = append(args, m.rcvr)
	switch m.lead {
	case contextType:
		args = append(args, reflect.ValueOf(ctx))
	case controllerType:
		args = append(args, reflect.ValueOf(ctl))
	}
	args = append(args, reflect.ValueOf(req), reflect.ValueOf(resp))
	results := m.method.Func.Call(args)
	if !results[0].IsNil() {
		return results[0].Interface().(error)
	}
	return nil
}

type service struct {
	name   string
	rcvr   reflect.Value
	typ    reflect.Type
	method map[string]*methodType
}

// NewService exposes the exported methods of rcvr under the name of its
// type. Accepted method shapes:
//
//	func (T) M(req *Req, resp *Resp) error
//	func (T) M(ctx context.Context, req *Req, resp *Resp) error
//	func (T) M(ctl *message.Controller, req *Req, resp *Resp) error
func NewService(rcvr any) (Service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("rpc: rcvr must be a pointer, got %T", rcvr)
	}
	return NewNamedService(typ.Elem().Name(), rcvr)
}

// NewNamedService is NewService with an explicit service name, e.g. a
// package-qualified "pkg.Echo".
func NewNamedService(name string, rcvr any) (Service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("rpc: rcvr must be a pointer, got %T", rcvr)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("rpc: rcvr must point to a struct, got %s", typ.Elem().Kind())
	}
	if name == "" {
		return nil, fmt.Errorf("rpc: empty service name for %s", typ)
	}
	srv := &service{
		name:   name,
		rcvr:   reflect.ValueOf(rcvr),
		typ:    typ,
		method: make(map[string]*methodType),
	}
	srv.registerMethods()
	if len(srv.method) == 0 {
		return nil, fmt.Errorf("rpc: type %s has no exported methods of suitable type", typ)
	}
	return srv, nil
}

func (s *service) Name() string { return s.name }

func (s *service) Method(name string) (Method, bool) {
	m, ok := s.method[name]
	if !ok {
		return nil, false
	}
	return m, true
}

// Methods returns the exposed method names in lexicographic order.
func (s *service) Methods() []string {
	names := make([]string, 0, len(s.method))
	for name := range s.method {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// registerMethods 扫描 struct 的导出方法，过滤出符合 RPC 签名的
func (s *service) registerMethods() {
	for i := 0; i < s.typ.NumMethod(); i++ {
		method := s.typ.Method(i)
		mt := method.Type
		if mt.NumOut() != 1 || mt.Out(0) != errorType {
			continue
		}

		var lead reflect.Type
		switch mt.NumIn() {
		case 3: // receiver, *Req, *Resp
		case 4:
			lead = mt.In(1)
			if lead != contextType && lead != controllerType {
				continue
			}
		default:
			continue
		}

		argType, replyType := mt.In(mt.NumIn()-2), mt.In(mt.NumIn()-1)
		if argType.Kind() != reflect.Ptr || replyType.Kind() != reflect.Ptr {
			continue
		}

		s.method[method.Name] = &methodType{
			method:    method,
			rcvr:      s.rcvr,
			ArgType:   argType.Elem(),
			ReplyType: replyType.Elem(),
			lead:      lead,
		}
	}
}
