package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitPriorityOrderAndTransformChain(t *testing.T) {
	e := NewEngine()
	var order []string

	_, err := e.RegisterHook(PointMessageInbound, func(_ context.Context, hc HookContext) (HandlerOutput, error) {
		order = append(order, "second")
		data := map[string]any{"text": hc.Data["text"].(string) + "+b"}
		return HandlerOutput{Transformed: data}, nil
	}, RegisterOptions{Priority: 10, Semantics: SemanticsTransform})
	require.NoError(t, err)

	_, err = e.RegisterHook(PointMessageInbound, func(_ context.Context, hc HookContext) (HandlerOutput, error) {
		order = append(order, "first")
		data := map[string]any{"text": hc.Data["text"].(string) + "+a"}
		return HandlerOutput{Transformed: data}, nil
	}, RegisterOptions{Priority: 1, Semantics: SemanticsTransform})
	require.NoError(t, err)

	res := e.Emit(context.Background(), PointMessageInbound, HookContext{
		Event: "message.inbound",
		Data:  map[string]any{"text": "x"},
	})
	assert.Equal(t, []string{"first", "second"}, order)
	assert.False(t, res.Vetoed)
	assert.Equal(t, "x+a+b", res.Transformed["text"])
}

func TestObserveCannotTransform(t *testing.T) {
	e := NewEngine()

	_, err := e.RegisterHook(PointTaskCreated, func(context.Context, HookContext) (HandlerOutput, error) {
		return HandlerOutput{Transformed: map[string]any{"hijacked": true}}, nil
	}, RegisterOptions{Semantics: SemanticsObserve})
	require.NoError(t, err)

	res := e.Emit(context.Background(), PointTaskCreated, HookContext{
		Data: map[string]any{"taskId": "t1"},
	})
	assert.Equal(t, "t1", res.Transformed["taskId"])
	assert.NotContains(t, res.Transformed, "hijacked")
}

func TestVetoStopsLaterHandlers(t *testing.T) {
	e := NewEngine()
	laterRan := false

	_, err := e.RegisterHook(PointAIRequest, func(context.Context, HookContext) (HandlerOutput, error) {
		return HandlerOutput{Veto: true, VetoReason: "blocked by policy"}, nil
	}, RegisterOptions{Priority: 1, Semantics: SemanticsVeto})
	require.NoError(t, err)

	_, err = e.RegisterHook(PointAIRequest, func(context.Context, HookContext) (HandlerOutput, error) {
		laterRan = true
		return HandlerOutput{}, nil
	}, RegisterOptions{Priority: 5, Semantics: SemanticsObserve})
	require.NoError(t, err)

	res := e.Emit(context.Background(), PointAIRequest, HookContext{Data: map[string]any{}})
	assert.True(t, res.Vetoed)
	assert.Equal(t, "blocked by policy", res.VetoReason)
	assert.False(t, laterRan)
}

func TestHandlerErrorsCollectedNotFatal(t *testing.T) {
	e := NewEngine()
	secondRan := false

	_, err := e.RegisterHook(PointMemorySaved, func(context.Context, HookContext) (HandlerOutput, error) {
		return HandlerOutput{}, errors.New("handler blew up")
	}, RegisterOptions{Priority: 1})
	require.NoError(t, err)

	_, err = e.RegisterHook(PointMemorySaved, func(context.Context, HookContext) (HandlerOutput, error) {
		secondRan = true
		return HandlerOutput{}, nil
	}, RegisterOptions{Priority: 2})
	require.NoError(t, err)

	res := e.Emit(context.Background(), PointMemorySaved, HookContext{Data: map[string]any{}})
	assert.Len(t, res.Errors, 1)
	assert.True(t, secondRan)
	assert.False(t, res.Vetoed)
}

func TestRegisterValidation(t *testing.T) {
	e := NewEngine()

	_, err := e.RegisterHook("bogus.point", func(context.Context, HookContext) (HandlerOutput, error) {
		return HandlerOutput{}, nil
	}, RegisterOptions{})
	assert.Error(t, err)

	_, err = e.RegisterHook(PointTaskCreated, nil, RegisterOptions{})
	assert.Error(t, err)

	_, err = e.RegisterHook(PointTaskCreated, func(context.Context, HookContext) (HandlerOutput, error) {
		return HandlerOutput{}, nil
	}, RegisterOptions{Semantics: "mutate"})
	assert.Error(t, err)
}

func TestCodeRegistrationReplacesPlaceholder(t *testing.T) {
	e := NewEngine()

	e.RegisterPlaceholder(PointTaskCompleted, 5, SemanticsObserve, "ext-1")
	assert.Equal(t, 1, e.HookCount(PointTaskCompleted))

	ran := false
	_, err := e.RegisterHook(PointTaskCompleted, func(context.Context, HookContext) (HandlerOutput, error) {
		ran = true
		return HandlerOutput{}, nil
	}, RegisterOptions{Priority: 5, ExtensionID: "ext-1"})
	require.NoError(t, err)

	assert.Equal(t, 1, e.HookCount(PointTaskCompleted), "placeholder replaced, not duplicated")
	e.Emit(context.Background(), PointTaskCompleted, HookContext{Data: map[string]any{}})
	assert.True(t, ran)
}

func TestRemoveExtensionClearsHooks(t *testing.T) {
	e := NewEngine()

	e.RegisterPlaceholder(PointTaskCreated, 0, SemanticsObserve, "ext-1")
	_, err := e.RegisterHook(PointTaskFailed, func(context.Context, HookContext) (HandlerOutput, error) {
		return HandlerOutput{}, nil
	}, RegisterOptions{ExtensionID: "ext-1"})
	require.NoError(t, err)
	_, err = e.RegisterHook(PointTaskFailed, func(context.Context, HookContext) (HandlerOutput, error) {
		return HandlerOutput{}, nil
	}, RegisterOptions{ExtensionID: "ext-2"})
	require.NoError(t, err)

	removed := e.RemoveExtension("ext-1")
	assert.Equal(t, 2, removed)
	assert.Equal(t, 0, e.HookCount(PointTaskCreated))
	assert.Equal(t, 1, e.HookCount(PointTaskFailed))
}

func TestRemoveHookByID(t *testing.T) {
	e := NewEngine()

	id, err := e.RegisterHook(PointAgentStarted, func(context.Context, HookContext) (HandlerOutput, error) {
		return HandlerOutput{}, nil
	}, RegisterOptions{})
	require.NoError(t, err)

	assert.True(t, e.RemoveHook(id))
	assert.False(t, e.RemoveHook(id))
	assert.Equal(t, 0, e.HookCount(PointAgentStarted))
}
