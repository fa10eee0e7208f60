package oauth

import "html/template"

// Form pages rendered during the authorization flow. Styling follows the
// product theme: warm cream background, terracotta primary.
const pageCSS = `
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif;
               background: #FAF9F7;
               min-height: 100vh; display: flex; align-items: center; justify-content: center; margin: 0; }
        .container { background: white; padding: 40px; border-radius: 16px; box-shadow: 0 4px 24px rgba(0,0,0,0.08);
                     width: 100%; max-width: 400px; border: 1px solid #E5E4E0; }
        h1 { margin: 0 0 8px; color: #1A1915; font-size: 24px; font-weight: 600; }
        p { color: #6B6860; margin: 0 0 24px; }
        .form-group { margin-bottom: 20px; }
        label { display: block; margin-bottom: 8px; color: #1A1915; font-weight: 500; font-size: 14px; }
        input[type="email"], input[type="password"] {
            width: 100%; padding: 12px 14px; border: 1px solid #D9D8D4; border-radius: 8px;
            font-size: 15px; box-sizing: border-box; background: #FAF9F7; }
        input:focus { outline: none; border-color: #D97756; box-shadow: 0 0 0 3px rgba(217,119,86,0.1); }
        button { width: 100%; padding: 14px; background: #D97756;
                 color: white; border: none; border-radius: 8px; font-size: 15px; font-weight: 600;
                 cursor: pointer; }
        button:hover { background: #C4684A; }
        button.deny { background: white; color: #6B6860; border: 1px solid #D9D8D4; margin-top: 10px; }
        button.deny:hover { background: #F5F5F0; }
        .error { background: #FEF2F2; color: #B91C1C; padding: 12px; border-radius: 8px; margin-bottom: 20px; border: 1px solid #FECACA; }
        .success { background: #D1FAE5; color: #065F46; padding: 12px; border-radius: 8px; margin-bottom: 20px; border: 1px solid #A7F3D0; }
        .info { background: #F5F5F0; color: #6B6860; padding: 12px; border-radius: 8px; margin-bottom: 20px; font-size: 14px; }
        .alt-link { text-align: center; margin-top: 20px; color: #6B6860; }
        .alt-link a { color: #D97756; text-decoration: none; font-weight: 500; }
        .alt-link a:hover { text-decoration: underline; }
`

const loginPage = `<!DOCTYPE html>
<html>
<head>
    <title>Login - MCP Server</title>
    <style>` + pageCSS + `</style>
</head>
<body>
    <div class="container">
        <h1>Sign In</h1>
        <p>Sign in to authorize MCP client access</p>
        {{if .Error}}<div class="error">{{.Error}}</div>{{end}}
        {{if .Success}}<div class="success">{{.Success}}</div>{{end}}
        <div class="info">MCP client is requesting access to server tools.</div>
        <form method="POST" action="/login">
            <input type="hidden" name="session" value="{{.Session}}">
            <div class="form-group">
                <label for="email">Email</label>
                <input type="email" id="email" name="email" required placeholder="your@email.com">
            </div>
            <div class="form-group">
                <label for="password">Password</label>
                <input type="password" id="password" name="password" required placeholder="Your password">
            </div>
            <button type="submit">Sign In</button>
        </form>
        <div class="alt-link">Don't have an account? <a href="/signup?session={{.Session}}">Sign up</a></div>
    </div>
</body>
</html>`

const signupPage = `<!DOCTYPE html>
<html>
<head>
    <title>Sign Up - MCP Server</title>
    <style>` + pageCSS + `</style>
</head>
<body>
    <div class="container">
        <h1>Create Account</h1>
        <p>Sign up to authorize MCP client access</p>
        {{if .Error}}<div class="error">{{.Error}}</div>{{end}}
        <form method="POST" action="/signup">
            <input type="hidden" name="session" value="{{.Session}}">
            <div class="form-group">
                <label for="email">Email</label>
                <input type="email" id="email" name="email" required placeholder="your@email.com">
            </div>
            <div class="form-group">
                <label for="password">Password</label>
                <input type="password" id="password" name="password" required placeholder="At least 6 characters">
            </div>
            <div class="form-group">
                <label for="confirm_password">Confirm Password</label>
                <input type="password" id="confirm_password" name="confirm_password" required placeholder="Repeat your password">
            </div>
            <button type="submit">Sign Up</button>
        </form>
        <div class="alt-link">Already have an account? <a href="/login?session={{.Session}}">Sign in</a></div>
    </div>
</body>
</html>`

const consentPage = `<!DOCTYPE html>
<html>
<head>
    <title>Authorize - MCP Server</title>
    <style>` + pageCSS + `</style>
</head>
<body>
    <div class="container">
        <h1>Authorize Access</h1>
        <p>Signed in as <strong>{{.UserEmail}}</strong></p>
        <div class="info">The MCP client is requesting access to this server's tools. Allow it to act on your behalf?</div>
        <form method="POST" action="/consent">
            <input type="hidden" name="session" value="{{.Session}}">
            <button type="submit" name="action" value="allow">Allow Access</button>
            <button type="submit" name="action" value="deny" class="deny">Deny</button>
        </form>
    </div>
</body>
</html>`

var (
	loginTmpl   = template.Must(template.New("login").Parse(loginPage))
	signupTmpl  = template.Must(template.New("signup").Parse(signupPage))
	consentTmpl = template.Must(template.New("consent").Parse(consentPage))
)

type loginData struct {
	Session string
	Error   string
	Success string
}

type signupData struct {
	Session string
	Error   string
}

type consentData struct {
	Session   string
	UserEmail string
}
