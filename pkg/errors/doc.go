// Package errors provides structured errors with stable codes for the HTTP
// surface of the MFA service.
//
// FromMfa turns the sentinel and typed errors of package mfa into an *Error
// whose HTTPStatusCode picks the response status:
//
//	if err != nil {
//	    e := errors.FromMfa(err)
//	    render.Status(r, e.HTTPStatusCode())
//	    render.JSON(w, r, api.ErrorResponse{Code: string(e.Code), Message: e.Message})
//	}
package errors
