// Package httpapi maps the engine's operations to JSON routes.
//
// Routes:
//
//	POST /auth/register                 201 identity
//	POST /auth/login                    200 token pair
//	POST /auth/verify-email             200 identity
//	POST /auth/verify-email/resend      202
//	POST /auth/refresh                  200 token pair
//	POST /auth/password-reset           202
//	POST /auth/password-reset/confirm   204
//	POST /auth/logout                   204 (Bearer access token)
//	GET  /users/me                      200 identity (Bearer access token)
//
// Failures carry a stable code from [arkana.ErrorCode] and a generic
// message. Login failures never reveal whether the email exists; rate
// limited responses set Retry-After.
package httpapi
