// Command hashpw produces the bcrypt hash used for the service's basic auth.
//
// Usage:
//
//	hashpw <command>
//
// Commands:
//
//	hash    Prompt for a password twice and print its bcrypt hash. Put the
//	        output in AUTH_PASSWORD_HASH to enable authentication.
//
//	verify  Prompt for a password and check it against the hash given as
//	        the second argument, or AUTH_PASSWORD_HASH when omitted.
//
// Passwords are read without echo from a terminal, or one per line when
// stdin is piped.
package main
