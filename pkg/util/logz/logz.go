package logz

import (
	"github.com/atlassian/apicompat/pkg/coordinate"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func Coordinate(key coordinate.Key) zapcore.Field {
	return zap.Stringer("coordinate", key)
}

func Target(target coordinate.Coordinate) zapcore.Field {
	return zap.String("target", target.APIVersion()+", Resource="+target.Resource)
}

func URL(url string) zapcore.Field {
	return zap.String("url", url)
}

func RetryURL(url string) zapcore.Field {
	return zap.String("retry_url", url)
}

func Method(method string) zapcore.Field {
	return zap.String("method", method)
}

func StatusCode(code int) zapcore.Field {
	return zap.Int("status_code", code)
}

func Flow(flow string) zapcore.Field {
	return zap.String("flow", flow)
}
