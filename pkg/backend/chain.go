package backend

import "context"

// Middleware wraps an Invoker with additional behavior. Middlewares are
// composed with Chain to build a processing pipeline.
type Middleware func(next Invoker) Invoker

// invokerFunc adapts plain functions to the Invoker interface.
type invokerFunc struct {
	invoke    func(context.Context, Request) (*Result, error)
	modelName func() string
}

func (f invokerFunc) Invoke(ctx context.Context, req Request) (*Result, error) {
	return f.invoke(ctx, req)
}

func (f invokerFunc) ModelName() string {
	return f.modelName()
}

// WrapInvoker creates an Invoker from function implementations. Helper for
// middleware that needs to wrap behavior.
func WrapInvoker(
	invoke func(context.Context, Request) (*Result, error),
	modelName func() string,
) Invoker {
	return invokerFunc{invoke: invoke, modelName: modelName}
}

// Chain composes middlewares around a base Invoker. Earlier middlewares
// are outermost:
//
//	Chain(client, mw1, mw2, mw3) builds mw1 -> mw2 -> mw3 -> client
func Chain(base Invoker, middlewares ...Middleware) Invoker {
	client := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		client = middlewares[i](client)
	}
	return client
}
