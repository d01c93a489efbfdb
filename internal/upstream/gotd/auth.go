// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the TG-FileGate License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package gotd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
)

// terminalAuth conduz o login interativo no primeiro start, quando a
// sessão em disco ainda não existe. Starts seguintes reusam a sessão e
// nunca chegam aqui.
type terminalAuth struct{}

func (terminalAuth) Phone(_ context.Context) (string, error) {
	return prompt("Please enter your phone number: ")
}

func (terminalAuth) Code(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	return prompt("Please enter the code you received: ")
}

func (terminalAuth) Password(_ context.Context) (string, error) {
	return prompt("Please enter your 2FA password: ")
}

func (terminalAuth) AcceptTermsOfService(_ context.Context, _ tg.HelpTermsOfService) error {
	return nil
}

func (terminalAuth) SignUp(_ context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, errors.New("sign up is not supported; use an existing account")
}

func prompt(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
