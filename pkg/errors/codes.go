package errors

import (
	"net/http"
	"strings"
)

// Kind is the stable symbolic key of a taxonomy entry. Kinds are unique;
// the short wire codes they map to are not.
type Kind string

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// Category groups kinds by how a caller is expected to react to them.
type Category string

const (
	// CategoryRequest covers missing, blank or malformed command input and
	// unregistered oxd_ids. Never retried.
	CategoryRequest Category = "request"

	// CategoryAuthorization covers access token problems on protected
	// commands. The caller has to obtain a new token.
	CategoryAuthorization Category = "authorization"

	// CategoryTokenValidation covers ID token and hash binding failures.
	// The caller has to restart the authorization flow.
	CategoryTokenValidation Category = "token_validation"

	// CategoryUpstream covers failures talking to the OP or AS. These may
	// be retried after a delay.
	CategoryUpstream Category = "upstream"

	// CategoryInternal covers unknown and unsupported operations.
	CategoryInternal Category = "internal"
)

// Entry is one immutable row of the taxonomy.
type Entry struct {
	Kind       Kind
	HTTPStatus int
	Code       string
	Message    string
	Category   Category
}

// Taxonomy kinds, in table order.
const (
	KindInternalErrorUnknown                      Kind = "INTERNAL_ERROR_UNKNOWN"
	KindInternalErrorNoParams                     Kind = "INTERNAL_ERROR_NO_PARAMS"
	KindBadRequestNoOxdID                         Kind = "BAD_REQUEST_NO_OXD_ID"
	KindBadRequestNoCode                          Kind = "BAD_REQUEST_NO_CODE"
	KindBadRequestNoState                         Kind = "BAD_REQUEST_NO_STATE"
	KindBadRequestStateNotValid                   Kind = "BAD_REQUEST_STATE_NOT_VALID"
	KindBadRequestInvalidCode                     Kind = "BAD_REQUEST_INVALID_CODE"
	KindBadRequestNoRefreshToken                  Kind = "BAD_REQUEST_NO_REFRESH_TOKEN"
	KindNoIDTokenReturned                         Kind = "NO_ID_TOKEN_RETURNED"
	KindNoIDTokenParam                            Kind = "NO_ID_TOKEN_PARAM"
	KindNoAccessTokenReturned                     Kind = "NO_ACCESS_TOKEN_RETURNED"
	KindAccessTokenInsufficientScope              Kind = "ACCESS_TOKEN_INSUFFICIENT_SCOPE"
	KindInvalidNonce                              Kind = "INVALID_NONCE"
	KindInvalidState                              Kind = "INVALID_STATE"
	KindInvalidIDTokenBadNonce                    Kind = "INVALID_ID_TOKEN_BAD_NONCE"
	KindInvalidIDTokenBadAudience                 Kind = "INVALID_ID_TOKEN_BAD_AUDIENCE"
	KindInvalidIDTokenBadAuthorizedParty          Kind = "INVALID_ID_TOKEN_BAD_AUTHORIZED_PARTY"
	KindInvalidIDTokenExpired                     Kind = "INVALID_ID_TOKEN_EXPIRED"
	KindInvalidIDTokenBadIssuer                   Kind = "INVALID_ID_TOKEN_BAD_ISSUER"
	KindInvalidIDTokenBadSignature                Kind = "INVALID_ID_TOKEN_BAD_SIGNATURE"
	KindInvalidIDTokenUnknown                     Kind = "INVALID_ID_TOKEN_UNKNOWN"
	KindInvalidAccessTokenBadHash                 Kind = "INVALID_ACCESS_TOKEN_BAD_HASH"
	KindInvalidAuthorizationCodeBadHash           Kind = "INVALID_AUTHORIZATION_CODE_BAD_HASH"
	KindInvalidRegistrationClientURL              Kind = "INVALID_REGISTRATION_CLIENT_URL"
	KindInvalidOxdID                              Kind = "INVALID_OXD_ID"
	KindInvalidRequest                            Kind = "INVALID_REQUEST"
	KindInvalidRequestScopesRequired              Kind = "INVALID_REQUEST_SCOPES_REQUIRED"
	KindInvalidClientSecretRequired               Kind = "INVALID_CLIENT_SECRET_REQUIRED"
	KindInvalidClientIDRequired                   Kind = "INVALID_CLIENT_ID_REQUIRED"
	KindUnsupportedOperation                      Kind = "UNSUPPORTED_OPERATION"
	KindInvalidOpHost                             Kind = "INVALID_OP_HOST"
	KindInvalidAllowedOpHostURL                   Kind = "INVALID_ALLOWED_OP_HOST_URL"
	KindRestrictedOpHost                          Kind = "RESTRICTED_OP_HOST"
	KindBlankAccessToken                          Kind = "BLANK_ACCESS_TOKEN"
	KindInvalidAccessToken                        Kind = "INVALID_ACCESS_TOKEN"
	KindNoClientIDInIntrospectionResponse         Kind = "NO_CLIENT_ID_IN_INTROSPECTION_RESPONSE"
	KindInactiveAccessToken                       Kind = "INACTIVE_ACCESS_TOKEN"
	KindInvalidRedirectURI                        Kind = "INVALID_REDIRECT_URI"
	KindInvalidScope                              Kind = "INVALID_SCOPE"
	KindInvalidAcrValues                          Kind = "INVALID_ACR_VALUES"
	KindInvalidSignatureAlgorithm                 Kind = "INVALID_SIGNATURE_ALGORITHM"
	KindInvalidKeyEncryptionAlgorithm             Kind = "INVALID_KEY_ENCRYPTION_ALGORITHM"
	KindInvalidSubjectType                        Kind = "INVALID_SUBJECT_TYPE"
	KindInvalidBlockEncryptionAlgorithm           Kind = "INVALID_BLOCK_ENCRYPTION_ALGORITHM"
	KindNoConnectDiscoveryResponse                Kind = "NO_CONNECT_DISCOVERY_RESPONSE"
	KindNoRegistrationEndpoint                    Kind = "NO_REGISTRATION_ENDPOINT"
	KindNoUMADiscoveryResponse                    Kind = "NO_UMA_DISCOVERY_RESPONSE"
	KindNoUMAResourcesToProtect                   Kind = "NO_UMA_RESOURCES_TO_PROTECT"
	KindNoUMAHTTPMethod                           Kind = "NO_UMA_HTTP_METHOD"
	KindNoUMAPathParameter                        Kind = "NO_UMA_PATH_PARAMETER"
	KindNoUMATicketParameter                      Kind = "NO_UMA_TICKET_PARAMETER"
	KindNoUMAClaimsRedirectURIParameter           Kind = "NO_UMA_CLAIMS_REDIRECT_URI_PARAMETER"
	KindNoUMARPTParameter                         Kind = "NO_UMA_RPT_PARAMETER"
	KindInvalidClaimTokenOrClaimTokenFormat       Kind = "INVALID_CLAIM_TOKEN_OR_CLAIM_TOKEN_FORMAT"
	KindUMANeedInfo                               Kind = "UMA_NEED_INFO"
	KindUMAHTTPMethodNotUnique                    Kind = "UMA_HTTP_METHOD_NOT_UNIQUE"
	KindUMAFailedToValidateScopeExpression        Kind = "UMA_FAILED_TO_VALIDATE_SCOPE_EXPRESSION"
	KindUMAProtectionFailedResourcesAlreadyExists Kind = "UMA_PROTECTION_FAILED_BECAUSE_RESOURCES_ALREADY_EXISTS"
	KindFailedToGetEndSessionEndpoint             Kind = "FAILED_TO_GET_END_SESSION_ENDPOINT"
	KindFailedToGetRPT                            Kind = "FAILED_TO_GET_RPT"
	KindFailedToRemoveSite                        Kind = "FAILED_TO_REMOVE_SITE"
	KindRedirectURIIsNotRegistered                Kind = "REDIRECT_URI_IS_NOT_REGISTERED"
	KindFailedToGetDiscovery                      Kind = "FAILED_TO_GET_DISCOVERY"
	KindSSLHandshakeError                         Kind = "SSL_HANDSHAKE_ERROR"
	KindInvalidAlgorithm                          Kind = "INVALID_ALGORITHM"
	KindAlgorithmNotSupported                     Kind = "ALGORITHM_NOT_SUPPORTED"

	// Kinds the daemon reports for its own collaborators.
	KindFailedToIntrospect           Kind = "FAILED_TO_INTROSPECT"
	KindInvalidIntrospectionResponse Kind = "INVALID_INTROSPECTION_RESPONSE"
	KindFailedToGetRp                Kind = "FAILED_TO_GET_RP"
	KindFailedToGetJWKS              Kind = "FAILED_TO_GET_JWKS"
	KindInvalidConfiguration         Kind = "INVALID_CONFIGURATION"
)

const docURL = "https://gluu.org/docs/oxd"

// Value lists quoted by the algorithm and subject type messages.
var (
	signatureAlgorithms = []string{
		"none", "HS256", "HS384", "HS512", "RS256", "RS384", "RS512",
		"ES256", "ES384", "ES512", "PS256", "PS384", "PS512",
	}
	keyEncryptionAlgorithms   = []string{"RSA1_5", "RSA-OAEP", "A128KW", "A256KW"}
	blockEncryptionAlgorithms = []string{"A128CBC+HS256", "A256CBC+HS512", "A128GCM", "A256GCM"}
	subjectTypes              = []string{"pairwise", "public"}
)

func valueList(values []string) string {
	return "[" + strings.Join(values, ", ") + "]"
}

const (
	s400 = http.StatusBadRequest
	s403 = http.StatusForbidden
	s500 = http.StatusInternalServerError
)

// table is the ordered taxonomy. Order is significant for LookupByCode.
var table []Entry

// byKind indexes table by kind.
var byKind map[Kind]int

func init() {
	const (
		req   = CategoryRequest
		authz = CategoryAuthorization
		tok   = CategoryTokenValidation
		up    = CategoryUpstream
		in    = CategoryInternal
	)
	table = []Entry{
		{KindInternalErrorUnknown, s500, "internal_error", "Unknown internal server error occurs.", in},
		{KindInternalErrorNoParams, s400, "bad_request", "Command parameters are not specified or otherwise malformed.", req},
		{KindBadRequestNoOxdID, s400, "bad_request", "oxd_id is empty or not specified or is otherwise invalid (not registered).", req},
		{KindBadRequestNoCode, s400, "bad_request", "'code' is empty or not specified.", req},
		{KindBadRequestNoState, s400, "bad_request", "'state' is empty or not specified.", req},
		{KindBadRequestStateNotValid, s400, "bad_request", "'state' is not registered.", req},
		{KindBadRequestInvalidCode, s400, "bad_request", "'code' is invalid.", req},
		{KindBadRequestNoRefreshToken, s400, "bad_request", "'refresh token' is empty or not specified.", req},
		{KindNoIDTokenReturned, s500, "no_id_token", "id_token is not returned. Please check: 1) OP log file for error (oxauth.log) 2) whether 'openid' scope is present for 'get_authorization_url' command", up},
		{KindNoIDTokenParam, s400, "no_id_token", "id_token is not provided in request to oxd.", req},
		{KindNoAccessTokenReturned, s500, "no_access_token", "access_token is not returned by OP. Please check OP configuration.", up},
		{KindAccessTokenInsufficientScope, s403, "access_token_insufficient_scope", "access_token does not have `oxd` scope. Make sure a) scope exists on AS b) register_site is registered with 'oxd' scope c) get_client_token has 'oxd' scope in request", authz},
		{KindInvalidNonce, s400, "invalid_nonce", "Nonce value is not registered by oxd.", req},
		{KindInvalidState, s400, "invalid_state", "State value is not registered by oxd.", req},
		{KindInvalidIDTokenBadNonce, s500, "invalid_id_token_bad_nonce", "Invalid id_token. Nonce value from token does not match nonce from request.", tok},
		{KindInvalidIDTokenBadAudience, s500, "invalid_id_token_bad_audience", "Invalid id_token. Audience value from token does not match audience from request.", tok},
		{KindInvalidIDTokenBadAuthorizedParty, s500, "invalid_id_token_bad_authorized_party", "Invalid id_token. Authorized party value from token does not match client_id of client.", tok},
		{KindInvalidIDTokenExpired, s500, "invalid_id_token_expired", "Invalid id_token. id_token expired.", tok},
		{KindInvalidIDTokenBadIssuer, s500, "invalid_id_token_bad_issuer", "Invalid id_token. Bad issuer.", tok},
		{KindInvalidIDTokenBadSignature, s500, "invalid_id_token_bad_signature", "Invalid id_token. Bad signature.", tok},
		{KindInvalidIDTokenUnknown, s500, "invalid_id_token_unknown", "Invalid id_token, validation fail due to exception, please check oxd-server.log for details.", tok},
		{KindInvalidAccessTokenBadHash, s500, "invalid_access_token_bad_hash", "access_token is invalid. Hash of access_token does not match hash from id_token (at_hash).", tok},
		{KindInvalidAuthorizationCodeBadHash, s500, "invalid_authorization_code_bad_hash", "Authorization code is invalid. Hash of authorization code does not match hash from id_token (c_hash).", tok},
		{KindInvalidRegistrationClientURL, s500, "invalid_registration_client_url", "Registration client URL is invalid. Please check registration_client_url response parameter from IDP (http://openid.net/specs/openid-connect-registration-1_0.html#RegistrationResponse).", up},
		{KindInvalidOxdID, s400, "invalid_oxd_id", "Invalid oxd_id. Unable to find the site for oxd_id. It does not exist or has been removed from the server. Please use the register_site command to register a site.", req},
		{KindInvalidRequest, s400, "invalid_request", "Request is invalid. It doesn't contains all required parameters or otherwise is malformed.", req},
		{KindInvalidRequestScopesRequired, s400, "invalid_request", "Request is invalid. Scopes are required parameter in request.", req},
		{KindInvalidClientSecretRequired, s400, "invalid_client_secret", "client_secret is required parameter in request (skip client_id if you wish to dynamically register client.).", req},
		{KindInvalidClientIDRequired, s400, "invalid_client_id", "client_id is required parameter in request (skip client_secret if you wish to dynamically register client.).", req},
		{KindUnsupportedOperation, s500, "unsupported_operation", "Operation is not supported by server error.", in},
		{KindInvalidOpHost, s400, "invalid_op_host", "Invalid op_host (empty or blank).", req},
		{KindInvalidAllowedOpHostURL, s400, "invalid_allowed_op_host_url", "Please check 1) The urls in allowed_op_hosts field of oxd-server.yml are valid. 2) If op_host url is valid.", req},
		{KindRestrictedOpHost, s400, "restricted_op_host", "oxd server is not allowed to access op_host. Please check if op_host url is present in allowed_op_hosts field of oxd-server.yml.", req},
		{KindBlankAccessToken, s403, "blank_access_token", "access_token is blank. Command is protected by access_token, please provide valid token or otherwise switch off protection in configuration with protect_commands_with_access_token=false", authz},
		{KindInvalidAccessToken, s403, "invalid_access_token", "Invalid access_token. Command is protected by access_token, please provide valid token or otherwise switch off protection in configuration with protect_commands_with_access_token=false", authz},
		{KindNoClientIDInIntrospectionResponse, s500, "invalid_introspection_response", "AS returned introspection response with empty/blank client_id which is required by oxd. Please check your AS installation and make sure AS return client_id for introspection call (CE 3.1.0 or later).", up},
		{KindInactiveAccessToken, s403, "inactive_access_token", "Inactive access_token. Command is protected by access_token, please provide valid token or otherwise switch off protection in configuration with protect_commands_with_access_token=false", authz},
		{KindInvalidRedirectURI, s400, "invalid_redirect_uri", "Invalid redirect_uri (empty, blank or invalid).", req},
		{KindInvalidScope, s400, "invalid_scope", "Invalid scope parameter (empty or blank).", req},
		{KindInvalidAcrValues, s400, "invalid_acr_values", "Invalid acr_values parameter (empty or blank).", req},
		{KindInvalidSignatureAlgorithm, s400, "invalid_algorithm", "Invalid algorithm provided. Valid algorithms are: " + valueList(signatureAlgorithms), req},
		{KindInvalidKeyEncryptionAlgorithm, s400, "invalid_algorithm", "Invalid algorithm provided. Valid algorithms are: " + valueList(keyEncryptionAlgorithms), req},
		{KindInvalidSubjectType, s400, "invalid_subject_type", "Invalid subject type provided. Valid algorithms are: " + valueList(subjectTypes), req},
		{KindInvalidBlockEncryptionAlgorithm, s400, "invalid_algorithm", "Invalid algorithm provided. Valid algorithms are: " + valueList(blockEncryptionAlgorithms), req},
		{KindNoConnectDiscoveryResponse, s500, "no_connect_discovery_response", "Unable to fetch Connect discovery response /.well-known/openid-configuration", up},
		{KindNoRegistrationEndpoint, s500, "invalid_request", "OP does not support dynamic client registration. Please register client manually and provide client_id and client_secret to register_site command.", up},
		{KindNoUMADiscoveryResponse, s500, "no_uma_discovery_response", "Unable to fetch UMA discovery response /.well-known/uma2-configuration", up},
		{KindNoUMAResourcesToProtect, s400, "invalid_uma_request", "Resources list to protect is empty or blank. Please check it according to protocol definition at " + docURL, req},
		{KindNoUMAHTTPMethod, s400, "invalid_http_method", "http_method is not specified or otherwise not GET or POST or PUT or DELETE. Please check it according to protocol definition at " + docURL, req},
		{KindNoUMAPathParameter, s400, "invalid_path_parameter", "path parameter is not specified or otherwise not valid", req},
		{KindNoUMATicketParameter, s400, "invalid_ticket_parameter", "ticket parameter is not specified or otherwise is not valid", req},
		{KindNoUMAClaimsRedirectURIParameter, s400, "invalid_claims_redirect_uri_parameter", "claims_redirect_uri parameter is not specified or otherwise is not valid", req},
		{KindNoUMARPTParameter, s400, "invalid_rpt_parameter", "rpt parameter is not specified or otherwise is not valid", req},
		{KindInvalidClaimTokenOrClaimTokenFormat, s400, "invalid_claim_token_or_claim_token_form", "Claim token or claim token format is invalid.", req},
		{KindUMANeedInfo, s403, "need_info", "The authorization server needs additional information in order to determine whether the client is authorized to have these permissions.", authz},
		{KindUMAHTTPMethodNotUnique, s400, "http_method_not_unique", "HTTP method defined in JSON must be unique within given PATH (but occurs more then one time).", req},
		{KindUMAFailedToValidateScopeExpression, s400, "invalid_scope_expression", "The scope expression is invalid. Please check the documentation and make sure it is a valid JsonLogic expression.", req},
		{KindUMAProtectionFailedResourcesAlreadyExists, s400, "uma_protection_exists", "Server already has UMA Resources registered for this oxd_id. It is possible to overwrite it if provide overwrite=true for uma_rs_protect command (existing resources will be removed and new UMA Resources added).", req},
		{KindFailedToGetEndSessionEndpoint, s500, "no_end_session_endpoint_at_op", "OP does not provide end_session_endpoint at /.well-known/openid-configuration.", up},
		{KindFailedToGetRPT, s500, "internal_error", "Failed to get RPT.", up},
		{KindFailedToRemoveSite, s500, "remove_site_failed", "Failed to remove site.", in},
		{KindRedirectURIIsNotRegistered, s400, "redirect_uri_is_not_registered", "The authorization redirect uri is not registered.", req},
		{KindFailedToGetDiscovery, s500, "failed_to_get_discovery", "Failed to get OP discovery configuration.", up},
		{KindSSLHandshakeError, s500, "ssl_handshake_error", "Unable to find valid certification path to requested target. Please check if key_store_path in oxd configuration is correct.", up},
		{KindInvalidAlgorithm, s500, "invalid_algorithm", "Invalid algorithm provided (empty or null).", tok},
		{KindAlgorithmNotSupported, s500, "algorithm_not_supported", "Algorithm not supported.", tok},

		{KindFailedToIntrospect, s500, "failed_to_introspect", "Failed to call introspection endpoint of AS.", up},
		{KindInvalidIntrospectionResponse, s500, "invalid_introspection_response", "AS returned malformed introspection response.", up},
		{KindFailedToGetRp, s500, "internal_error", "Failed to load site from storage.", up},
		{KindFailedToGetJWKS, s500, "failed_to_get_jwks", "Failed to get OP JSON Web Key Set.", up},
		{KindInvalidConfiguration, s500, "invalid_configuration", "oxd-server configuration is invalid. Please check oxd-server.yml.", in},
	}

	byKind = make(map[Kind]int, len(table))
	for i, e := range table {
		if _, dup := byKind[e.Kind]; dup {
			panic("errors: duplicate kind " + string(e.Kind))
		}
		byKind[e.Kind] = i
	}
}

// Entries returns a copy of the full taxonomy in table order.
func Entries() []Entry {
	out := make([]Entry, len(table))
	copy(out, table)
	return out
}

// Lookup returns the entry for kind.
func Lookup(kind Kind) (Entry, bool) {
	i, ok := byKind[kind]
	if !ok {
		return Entry{}, false
	}
	return table[i], true
}

// LookupByCode returns the first entry, in table order, whose code equals
// code ignoring case. Blank or unknown codes report false; there is no
// default entry.
func LookupByCode(code string) (Entry, bool) {
	if strings.TrimSpace(code) == "" {
		return Entry{}, false
	}
	for _, e := range table {
		if strings.EqualFold(e.Code, code) {
			return e, true
		}
	}
	return Entry{}, false
}

// entryFor returns the entry for kind, falling back to
// INTERNAL_ERROR_UNKNOWN for kinds outside the table.
func entryFor(kind Kind) Entry {
	if e, ok := Lookup(kind); ok {
		return e
	}
	e, _ := Lookup(KindInternalErrorUnknown)
	return e
}
