package drivertest

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// LoginPageHTML is a minimal login form. Submitting it replaces the form
// with the signed-in marker after a short delay, the way a single page app
// would.
const LoginPageHTML = `<!doctype html>
<html>
<head><title>Login</title></head>
<body>
<form id="login">
  <input name="username" value="prefilled">
  <input name="password" type="password">
  <button type="submit">Log in</button>
</form>
<script>
document.getElementById('login').addEventListener('submit', function (e) {
  e.preventDefault();
  var user = document.querySelector("input[name='username']").value;
  var pass = document.querySelector("input[name='password']").value;
  setTimeout(function () {
    document.body.dataset.user = user;
    document.body.dataset.pass = pass;
    document.body.innerHTML = '<a href="#" id="inbox"><svg aria-label="Messenger" width="24" height="24"><rect width="24" height="24"/></svg></a>';
    document.getElementById('inbox').addEventListener('click', function () {
      document.title = 'clicked:' + document.body.dataset.user + ':' + document.body.dataset.pass;
    });
  }, 300);
});
</script>
</body>
</html>`

// SignedInTitle is the document title LoginPageHTML sets once the marker is
// clicked after submitting username and password.
func SignedInTitle(username, password string) string {
	return "clicked:" + username + ":" + password
}

// NewLoginPageServer serves LoginPageHTML at / until the test ends.
func NewLoginPageServer(t testing.TB) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(LoginPageHTML))
	}))
	t.Cleanup(srv.Close)
	return srv
}
