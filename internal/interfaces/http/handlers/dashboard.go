package handlers

// dashboardHTML is a self-contained page that polls /usage and renders
// the per-route buckets.
const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>tiergate</title>
<style>
  body { font-family: ui-monospace, monospace; margin: 2rem; background: #111; color: #ddd; }
  h1 { font-size: 1.2rem; }
  table { border-collapse: collapse; margin-top: 1rem; }
  th, td { border: 1px solid #444; padding: 0.4rem 0.8rem; text-align: right; }
  th:first-child, td:first-child { text-align: left; }
  .muted { color: #888; font-size: 0.85rem; margin-top: 1rem; }
</style>
</head>
<body>
<h1>tiergate usage</h1>
<table id="usage">
  <thead>
    <tr><th>route</th><th>requests</th><th>%</th><th>prompt</th><th>completion</th><th>total</th><th>with usage</th></tr>
  </thead>
  <tbody></tbody>
</table>
<p class="muted" id="updated"></p>
<script>
async function refresh() {
  const res = await fetch('/usage');
  if (!res.ok) return;
  const snap = await res.json();
  const tbody = document.querySelector('#usage tbody');
  tbody.innerHTML = '';
  for (const route of ['cheap', 'medium', 'frontier', 'unknown']) {
    const b = snap.buckets[route];
    if (!b) continue;
    const pct = snap.percent[route];
    const row = document.createElement('tr');
    row.innerHTML = '<td>' + route + '</td><td>' + b.requests + '</td><td>' +
      (pct === undefined ? '-' : pct.toFixed(1)) + '</td><td>' + b.promptTokens +
      '</td><td>' + b.completionTokens + '</td><td>' + b.totalTokens +
      '</td><td>' + b.withUsage + '</td>';
    tbody.appendChild(row);
  }
  document.getElementById('updated').textContent =
    'total: ' + snap.total + ' | last updated: ' + (snap.lastUpdated || 'never');
}
refresh();
setInterval(refresh, 5000);
</script>
</body>
</html>
`
