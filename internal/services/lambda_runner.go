package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"hk-cultural-events/internal/logging"
	"hk-cultural-events/internal/models"
)

// LambdaAPI is the subset of the Lambda client used to run imports remotely
type LambdaAPI interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// LambdaRunner runs the import in the import Lambda and waits for the result
type LambdaRunner struct {
	client       LambdaAPI
	functionName string
}

// NewLambdaRunner creates a runner invoking functionName
func NewLambdaRunner(client LambdaAPI, functionName string) *LambdaRunner {
	return &LambdaRunner{client: client, functionName: functionName}
}

// Run invokes the import function synchronously. A function error or an
// unsuccessful result is reported as ErrImportFailed; a busy result as
// ErrImportInProgress.
func (r *LambdaRunner) Run(ctx context.Context, trigger string) (*models.ImportSummary, error) {
	payload, err := json.Marshal(models.ImportInvocation{
		Source:      "hk-cultural-events",
		TriggerType: trigger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal invocation: %w", err)
	}

	out, err := r.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(r.functionName),
		InvocationType: types.InvocationTypeRequestResponse,
		Payload:        payload,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to invoke import function: %w", err)
	}

	if out.FunctionError != nil {
		logging.Ctx(ctx).Error().
			Str("function", r.functionName).
			Str("function_error", aws.ToString(out.FunctionError)).
			RawJSON("payload", safeJSON(out.Payload)).
			Msg("Import function failed")
		return nil, fmt.Errorf("%w: function error %s", ErrImportFailed, aws.ToString(out.FunctionError))
	}

	var result models.ImportResult
	if err := json.Unmarshal(out.Payload, &result); err != nil {
		return nil, fmt.Errorf("failed to decode import result: %w", err)
	}
	if !result.Success {
		if result.Message == ErrImportInProgress.Error() {
			return result.Summary, ErrImportInProgress
		}
		return result.Summary, fmt.Errorf("%w: %s", ErrImportFailed, result.Message)
	}
	return result.Summary, nil
}

// safeJSON returns raw if it is valid JSON, otherwise null
func safeJSON(raw []byte) []byte {
	if json.Valid(raw) {
		return raw
	}
	return []byte("null")
}

// IsImportFailure reports whether err came from a failed import, as opposed
// to lock contention
func IsImportFailure(err error) bool {
	return errors.Is(err, ErrImportFailed)
}
