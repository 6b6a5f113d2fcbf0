package designer

import (
	"errors"
	"fmt"
	"strconv"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// reads the user from a project service token without verifying it
// The relay trusts whatever identity a client presents, so the signature is
// not needed to form the connection triple.
func ParseIdentityJwtUnverified(jwt string) (*Identity, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(jwt, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	identity := &Identity{}

	switch v := claims["user_id"].(type) {
	case string:
		identity.UserId = v
	case float64:
		identity.UserId = strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
	default:
		return nil, fmt.Errorf("user_id has unexpected type %T", v)
	}
	if identity.UserId == "" {
		if sub, err := claims.GetSubject(); err == nil {
			identity.UserId = sub
		}
	}
	if identity.UserId == "" {
		return nil, errors.New("jwt has no user_id")
	}

	for _, key := range []string{"name", "username"} {
		if name, ok := claims[key].(string); ok && name != "" {
			identity.Username = name
			break
		}
	}
	if identity.Username == "" {
		identity.Username = DefaultUsername
	}

	return identity, nil
}
