// Package identity provides identity and session management primitives:
// certificate-backed bearer/refresh token issuance and validation,
// multi-channel one-time confirmation codes, federated sign-in linking, and
// an in-process notifier for session-relevant user changes.
//
// Tokens:
//   - TokenCodec signs and verifies compact JWTs with the RSA key pair held by
//     an X.509 certificate. Verification only needs the certificate, so other
//     processes can validate tokens without signing capability.
//   - SessionManager owns the token lifecycle: it persists one Session row per
//     refresh-token chain and rotates a monotonic generation counter on every
//     refresh. Presenting a stale generation revokes the whole session, since
//     a reused refresh token means it was exfiltrated.
//   - Every issued token embeds the user's security stamp. Rotating the stamp
//     (password change, contact change) invalidates all outstanding tokens
//     without a revocation list.
//
// One-time tokens:
//   - OneTimeTokenIssuer generates single-use codes for email confirmation,
//     phone confirmation, password reset, two-factor sign-in, and generic OTP
//     flows. Issuing a new code invalidates the prior one, consumption is
//     exactly-once, and expiry is checked lazily at consumption time.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter describing session, code,
//     and linking events. Sinks run best-effort (errors are logged) so you can
//     forward to a database or queue without blocking authentication.
package identity
