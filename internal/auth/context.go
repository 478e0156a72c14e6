package auth

import "context"

type subjectKey struct{}

// anonymous 是未经认证请求在审计日志中的名字。
const anonymous = "anonymous"

// WithSubject 把通过认证的调用方挂到请求上下文。
func WithSubject(ctx context.Context, subject *Subject) context.Context {
	if subject == nil {
		return ctx
	}
	return context.WithValue(ctx, subjectKey{}, subject)
}

// SubjectFromContext 取出调用方；未认证时为 nil。
func SubjectFromContext(ctx context.Context) *Subject {
	if ctx == nil {
		return nil
	}
	subject, _ := ctx.Value(subjectKey{}).(*Subject)
	return subject
}

// SubjectName 返回调用方令牌名，未认证时返回 "anonymous"。
func SubjectName(ctx context.Context) string {
	if s := SubjectFromContext(ctx); s != nil && s.Name != "" {
		return s.Name
	}
	return anonymous
}
