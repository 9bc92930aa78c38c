package server

import (
	"SynthVault/internal/vaulterr"
	"context"
	"errors"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// ReasonTrailer carries the vault error code ("paused", "slippage", ...)
// next to the gRPC status.
const ReasonTrailer = "x-vault-reason"

// codeFor maps a vault failure kind onto a gRPC code.
func codeFor(err error) codes.Code {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	}
	switch vaulterr.KindOf(err) {
	case vaulterr.KindValidation:
		return codes.InvalidArgument
	case vaulterr.KindState, vaulterr.KindSafety:
		return codes.FailedPrecondition
	case vaulterr.KindExternal:
		return codes.Unavailable
	case vaulterr.KindAuth:
		return codes.PermissionDenied
	default:
		return codes.Internal
	}
}

// toStatus converts err into a status error. Errors that already are
// statuses pass through.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	code := codeFor(err)
	if code == codes.Internal {
		return status.Error(code, "internal error")
	}
	return status.Error(code, err.Error())
}

func statusInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}
		if _, isStatus := status.FromError(err); !isStatus && codeFor(err) == codes.Internal {
			logger.Error().Err(err).Str("method", info.FullMethod).Msg("internal error")
		}
		if vaulterr.KindOf(err) != vaulterr.KindUnknown {
			// No stream on the HTTP path; the trailer is then dropped.
			_ = grpc.SetTrailer(ctx, metadata.Pairs(ReasonTrailer, vaulterr.CodeOf(err)))
		}
		return nil, toStatus(err)
	}
}
