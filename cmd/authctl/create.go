package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/gophauth/internal/flagx"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/dmitrijs2005/gophauth/internal/server/services"
	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

var commandFlags = []string{"-email", "-role", "-first", "-last"}

type options struct {
	email     string
	role      models.Role
	firstName string
	lastName  string
}

type registrar interface {
	Register(ctx context.Context, in services.RegisterInput) (*services.AuthResult, error)
}

func parseOptions(args []string) (options, error) {
	var (
		o    options
		role string
	)

	fs := flag.NewFlagSet("authctl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&o.email, "email", "", "account email")
	fs.StringVar(&role, "role", string(models.RoleUser), "user, manager or admin")
	fs.StringVar(&o.firstName, "first", "", "first name")
	fs.StringVar(&o.lastName, "last", "", "last name")

	if err := fs.Parse(flagx.FilterArgs(args, commandFlags)); err != nil {
		return o, err
	}

	o.role = models.Role(role)
	if o.email == "" {
		return o, errors.New("-email is required")
	}
	if !o.role.Valid() {
		return o, fmt.Errorf("unknown role %q", role)
	}
	return o, nil
}

// promptPassword reads the password twice without echo.
func promptPassword(w io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())

	fmt.Fprint(w, "Password: ")
	first, err := readPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}

	fmt.Fprint(w, "Repeat password: ")
	second, err := readPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}

	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}

func createUser(ctx context.Context, r registrar, o options, w io.Writer) error {
	pw, err := promptPassword(w)
	if err != nil {
		return err
	}

	res, err := r.Register(ctx, services.RegisterInput{
		Email:     o.email,
		Password:  pw,
		Role:      o.role,
		FirstName: o.firstName,
		LastName:  o.lastName,
	})
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}

	fmt.Fprintf(w, "created user id=%d email=%s role=%s\n", res.User.ID, res.User.Email, res.User.Role)
	return nil
}
