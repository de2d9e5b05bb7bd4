package web

// indexHTML is the single-page dashboard. It polls /status over the
// websocket feed and shows the annotated camera stream from /video.
const indexHTML = `<!DOCTYPE html>
<html>
<head>
<title>precland</title>
<meta name="viewport" content="width=device-width, initial-scale=1">
<style>
body { font-family: monospace; background: #111; color: #ddd; margin: 0; padding: 1em; }
h1 { font-size: 1.2em; color: #6cf; }
.row { display: flex; flex-wrap: wrap; gap: 1em; }
.panel { background: #1a1a1a; border: 1px solid #333; padding: 1em; border-radius: 4px; }
#video { max-width: 100%; border: 1px solid #333; }
table td { padding: 0.1em 0.8em 0.1em 0; }
.state { font-weight: bold; color: #fc6; }
button { font-family: monospace; padding: 0.4em 1.2em; margin-right: 0.5em;
         background: #234; color: #ddd; border: 1px solid #456; cursor: pointer; }
button:hover { background: #345; }
input { width: 5em; font-family: monospace; background: #222; color: #ddd; border: 1px solid #444; }
label { display: inline-block; width: 6em; }
</style>
</head>
<body>
<h1>precland &mdash; precision landing</h1>
<div class="row">
  <div class="panel">
    <img id="video" src="/video" alt="camera stream">
  </div>
  <div class="panel">
    <table>
      <tr><td>State</td><td class="state" id="state">-</td></tr>
      <tr><td>Altitude</td><td id="altitude">-</td></tr>
      <tr><td>Armed</td><td id="armed">-</td></tr>
      <tr><td>Mode</td><td id="mode">-</td></tr>
      <tr><td>Beacon</td><td id="beacon">-</td></tr>
      <tr><td>FPS</td><td id="fps">-</td></tr>
      <tr><td>RC</td><td id="rc">-</td></tr>
      <tr><td>MSP</td><td id="msp">-</td></tr>
    </table>
    <p>
      <button onclick="setEnabled(true)">Enable</button>
      <button onclick="setEnabled(false)">Disable</button>
    </p>
    <p>
      <label>Kp</label><input id="kp" type="number" step="0.01"><br>
      <label>Ki</label><input id="ki" type="number" step="0.01"><br>
      <label>Kd</label><input id="kd" type="number" step="0.01"><br>
      <label>Threshold</label><input id="threshold" type="number" step="1"><br>
      <button onclick="sendParams()">Apply</button>
    </p>
  </div>
</div>
<script>
function set(id, text) { document.getElementById(id).textContent = text; }

function apply(s) {
  set('state', s.state);
  set('altitude', s.altitude.toFixed(2) + ' m');
  set('armed', s.armed ? 'ARMED' : 'disarmed');
  set('mode', s.mode);
  set('beacon', s.beaconDetected ? (s.beaconPosition.X + ', ' + s.beaconPosition.Y) : 'not detected');
  set('fps', s.fps.toFixed(1));
  set('rc', s.rcChannels.join(' '));
  set('msp', s.mspConnected ? 'connected' : 'disconnected');
}

function connect() {
  var ws = new WebSocket('ws://' + location.host + '/ws');
  ws.onmessage = function(ev) { apply(JSON.parse(ev.data)); };
  ws.onclose = function() { setTimeout(connect, 1000); };
}
connect();

function setEnabled(enabled) {
  fetch('/enable', {
    method: 'POST',
    headers: {'Content-Type': 'application/json'},
    body: JSON.stringify({enabled: enabled})
  });
}

function sendParams() {
  var body = {};
  ['kp', 'ki', 'kd'].forEach(function(k) {
    var v = document.getElementById(k).value;
    if (v !== '') body[k] = parseFloat(v);
  });
  var thr = document.getElementById('threshold').value;
  if (thr !== '') body.threshold = parseInt(thr, 10);
  fetch('/param', {
    method: 'POST',
    headers: {'Content-Type': 'application/json'},
    body: JSON.stringify(body)
  });
}
</script>
</body>
</html>
`
